// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tui is the interactive review screen for keys awaiting a
// decision. Pending and denied keys are listed with their fingerprints and
// can be accepted, rejected or deleted one at a time.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/events"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

// Actor is the engine surface the review screen drives.
type Actor interface {
	Accept(ctx context.Context, spec match.Spec, opts engine.AcceptOptions) (*model.Result, error)
	Reject(ctx context.Context, spec match.Spec, opts engine.RejectOptions) (*model.Result, error)
	Delete(ctx context.Context, spec match.Spec) (*model.Result, error)
}

// Fingerprinter renders fingerprints for a listing.
type Fingerprinter interface {
	Finger(spec match.Spec, hashType string) (fingerprint.KeyMap, error)
}

// Subscriber delivers key events while the screen is open.
type Subscriber interface {
	Subscribe(h events.Handler) (unsubscribe func())
}

// keyChangedMsg tells the screen a stored key changed state.
type keyChangedMsg struct{ ev model.Event }

type reviewRow struct {
	id     string
	state  model.KeyState
	finger string
}

// Model is the bubbletea model of the review screen.
type Model struct {
	ctx      context.Context
	actor    Actor
	lister   match.Lister
	finger   Fingerprinter
	hashType string

	rows      []reviewRow
	table     table.Model
	filter    textinput.Model
	filtering bool
	status    string
	err       error
}

// NewModel builds the review screen and loads the reviewable keys.
func NewModel(ctx context.Context, actor Actor, lister match.Lister, finger Fingerprinter, hashType string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Minion", Width: 24},
			{Title: "State", Width: 10},
			{Title: "Fingerprint (" + hashType + ")", Width: 70},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorHighlight).
		Bold(false)
	t.SetStyles(s)

	fi := textinput.New()
	fi.Placeholder = "filter"
	fi.Prompt = "/ "

	m := Model{ctx: ctx, actor: actor, lister: lister, finger: finger, hashType: hashType, table: t, filter: fi}
	m.reload()
	return m
}

// reload lists pending and denied keys and rebuilds the table.
func (m *Model) reload() {
	keys, err := m.lister.ListKeys()
	if err != nil {
		m.err = err
		m.rows = nil
		m.table.SetRows(nil)
		return
	}
	review := keys.Only(model.StatePending, model.StateDenied)
	fps, err := m.finger.Finger(match.DictSpec(review), m.hashType)
	if err != nil {
		m.err = err
		return
	}
	m.rows = nil
	for _, st := range []model.KeyState{model.StatePending, model.StateDenied} {
		for _, id := range review[st] {
			m.rows = append(m.rows, reviewRow{id: id, state: st, finger: fps[st][id]})
		}
	}
	m.rebuildTableRows()
}

func (m *Model) rebuildTableRows() {
	needle := strings.ToLower(m.filter.Value())
	var rows []table.Row
	for _, r := range m.visible(needle) {
		rows = append(rows, table.Row{r.id, r.state.String(), r.finger})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m *Model) visible(needle string) []reviewRow {
	if needle == "" {
		return m.rows
	}
	var out []reviewRow
	for _, r := range m.rows {
		if strings.Contains(strings.ToLower(r.id), needle) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Model) selected() (reviewRow, bool) {
	rows := m.visible(strings.ToLower(m.filter.Value()))
	c := m.table.Cursor()
	if c < 0 || c >= len(rows) {
		return reviewRow{}, false
	}
	return rows[c], true
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case keyChangedMsg:
		m.reload()
		return m, nil

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 8)
		m.table.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			switch msg.Type {
			case tea.KeyEnter, tea.KeyEsc:
				m.filtering = false
				m.filter.Blur()
				m.table.Focus()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.rebuildTableRows()
			m.table.GotoTop()
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "/":
			m.filtering = true
			m.table.Blur()
			cmd := m.filter.Focus()
			return m, cmd
		case "a":
			m.act("accepted", func(spec match.Spec) (*model.Result, error) {
				return m.actor.Accept(m.ctx, spec, engine.AcceptOptions{IncludeDenied: true})
			})
			return m, nil
		case "r":
			m.act("rejected", func(spec match.Spec) (*model.Result, error) {
				return m.actor.Reject(m.ctx, spec, engine.RejectOptions{IncludeDenied: true})
			})
			return m, nil
		case "d":
			m.act("deleted", func(spec match.Spec) (*model.Result, error) {
				return m.actor.Delete(m.ctx, spec)
			})
			return m, nil
		case "g":
			m.reload()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// act applies do to the selected key and reloads the listing.
func (m *Model) act(verb string, do func(match.Spec) (*model.Result, error)) {
	row, ok := m.selected()
	if !ok {
		return
	}
	spec := match.DictSpec{row.state: {row.id}}
	res, err := do(spec)
	if err == nil {
		err = engine.FailedError(res)
	}
	if err != nil {
		m.err = err
		m.status = ""
	} else {
		m.err = nil
		m.status = fmt.Sprintf("Key for minion %s %s.", row.id, verb)
	}
	m.reload()
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Keys awaiting review"))
	b.WriteString("\n\n")
	if len(m.rows) == 0 && m.err == nil {
		b.WriteString(helpStyle.Render("No unaccepted keys."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}
	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(successStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("a: accept  r: reject  d: delete  /: filter  g: refresh  q: quit"))
	return docStyle.Render(b.String())
}

// Run starts the review screen on the terminal. When bus is non-nil the
// listing reloads on every key event it carries.
func Run(ctx context.Context, actor Actor, lister match.Lister, finger Fingerprinter, hashType string, bus Subscriber) error {
	p := tea.NewProgram(NewModel(ctx, actor, lister, finger, hashType), tea.WithContext(ctx))
	if bus != nil {
		unsubscribe := bus.Subscribe(func(ev model.Event) {
			if ev.Tag != model.TopicKey {
				return
			}
			// Bus handlers run inside Publish, which may be this program's
			// own Update; Send blocks until the event loop reads it.
			go p.Send(keyChangedMsg{ev: ev})
		})
		defer unsubscribe()
	}
	_, err := p.Run()
	return err
}
