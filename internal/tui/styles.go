// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/toeirei/keyward/internal/model"
)

const (
	colorSubtle    = lipgloss.Color("240") // Muted gray
	colorHighlight = lipgloss.Color("81")  // Teal
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
	colorWhite     = lipgloss.Color("231")
)

var (
	docStyle     = lipgloss.NewStyle().Margin(1, 2)
	helpStyle    = lipgloss.NewStyle().Foreground(colorSubtle)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	titleStyle   = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true).
			Padding(0, 1)
)

// StateStyle is the colour a key state is rendered in: accepted green,
// pending red, rejected blue, denied magenta.
func StateStyle(st model.KeyState) lipgloss.Style {
	switch st {
	case model.StateAccepted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case model.StatePending:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case model.StateRejected:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	case model.StateDenied:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	default:
		return lipgloss.NewStyle()
	}
}
