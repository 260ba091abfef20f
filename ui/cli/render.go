// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/i18n"
	"github.com/toeirei/keyward/internal/model"
	"github.com/toeirei/keyward/internal/tui"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// displayOrder is the order buckets are printed in.
var displayOrder = []model.KeyState{
	model.StateAccepted, model.StateDenied, model.StatePending, model.StateRejected, model.StateLocal,
}

func (a *app) format() string {
	switch strings.ToLower(a.cfg.Output) {
	case formatJSON:
		return formatJSON
	case formatYAML:
		return formatYAML
	default:
		return formatText
	}
}

// renderData writes v as JSON or YAML.
func renderData(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
}

// plainListing keys a listing by state name for structured output.
func plainListing(l model.Listing) map[string][]string {
	out := map[string][]string{}
	for st, ids := range l {
		out[st.String()] = append([]string{}, ids...)
	}
	return out
}

func plainKeyMap(m fingerprint.KeyMap) map[string]map[string]string {
	out := map[string]map[string]string{}
	for st, ids := range m {
		out[st.String()] = ids
	}
	return out
}

func stateHeader(st model.KeyState) string {
	return i18n.T("state." + st.String())
}

// writeListing prints each present bucket under its header, ids coloured
// by state.
func writeListing(w io.Writer, l model.Listing) {
	for _, st := range displayOrder {
		ids, ok := l[st]
		if !ok {
			continue
		}
		fmt.Fprintln(w, stateHeader(st))
		style := tui.StateStyle(st)
		for _, id := range ids {
			fmt.Fprintln(w, style.Render(id))
		}
	}
}

// writeKeyMap prints per-state values, one "id:  value" line per entry, or
// the value on its own lines when multiline is set.
func writeKeyMap(w io.Writer, m fingerprint.KeyMap, multiline bool) {
	for _, st := range displayOrder {
		entries, ok := m[st]
		if !ok {
			continue
		}
		fmt.Fprintln(w, stateHeader(st))
		style := tui.StateStyle(st)
		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if multiline {
				fmt.Fprintf(w, "%s:\n%s\n", style.Render(id), strings.TrimRight(entries[id], "\n"))
				continue
			}
			fmt.Fprintf(w, "%s:  %s\n", style.Render(id), entries[id])
		}
	}
}

func (a *app) printListing(w io.Writer, l model.Listing) error {
	if f := a.format(); f != formatText {
		return renderData(w, f, plainListing(l))
	}
	writeListing(w, l)
	return nil
}

func (a *app) printKeyMap(w io.Writer, m fingerprint.KeyMap, multiline bool) error {
	if f := a.format(); f != formatText {
		return renderData(w, f, plainKeyMap(m))
	}
	writeKeyMap(w, m, multiline)
	return nil
}
