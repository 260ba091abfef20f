// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/model"
	"github.com/toeirei/keyward/internal/testutil"
)

func newReview(t *testing.T) (Model, *keystore.Store) {
	t.Helper()
	s := keystore.New(afero.NewMemMapFs(), "/pki")
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"web-1", "web-2"} {
		if err := s.Write(id, model.StatePending, testutil.SSHPublicKey(byte(i+1))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Write("db-1", model.StateDenied, testutil.SSHPublicKey(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ok-1", model.StateAccepted, testutil.SSHPublicKey(4)); err != nil {
		t.Fatal(err)
	}
	eng := engine.New(s)
	return NewModel(context.Background(), eng, s, fingerprint.NewInspector(s, nil), "sha256"), s
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func stateOf(t *testing.T, s *keystore.Store, id string) (model.KeyState, bool) {
	t.Helper()
	st, found, err := s.Locate(id)
	if err != nil {
		t.Fatal(err)
	}
	return st, found
}

func TestReview_ListsPendingAndDenied(t *testing.T) {
	m, _ := newReview(t)
	if len(m.rows) != 3 {
		t.Fatalf("expected 3 reviewable keys, got %d", len(m.rows))
	}
	if m.rows[0].id != "web-1" || m.rows[2].state != model.StateDenied {
		t.Fatalf("unexpected order: %+v", m.rows)
	}
	if len(m.rows[0].finger) != 95 {
		t.Fatalf("expected sha256 fingerprint, got %q", m.rows[0].finger)
	}
	view := m.View()
	if !strings.Contains(view, "web-2") || strings.Contains(view, "ok-1") {
		t.Fatalf("unexpected view:\n%s", view)
	}
}

func TestReview_AcceptRejectDelete(t *testing.T) {
	m, s := newReview(t)

	m = press(m, "a")
	if st, _ := stateOf(t, s, "web-1"); st != model.StateAccepted {
		t.Fatalf("web-1 should be accepted, got %s", st)
	}
	if !strings.Contains(m.status, "web-1 accepted") {
		t.Fatalf("unexpected status %q", m.status)
	}

	m = press(m, "r")
	if st, _ := stateOf(t, s, "web-2"); st != model.StateRejected {
		t.Fatalf("web-2 should be rejected, got %s", st)
	}

	// only the denied key is left
	m = press(m, "d")
	if _, found := stateOf(t, s, "db-1"); found {
		t.Fatal("db-1 should be deleted")
	}
	if len(m.rows) != 0 || !strings.Contains(m.View(), "No unaccepted keys.") {
		t.Fatalf("expected empty review, rows=%d", len(m.rows))
	}

	// acting on an empty table is a no-op
	m = press(m, "a")
	if m.err != nil {
		t.Fatalf("unexpected error %v", m.err)
	}
}

func TestReview_Filter(t *testing.T) {
	m, s := newReview(t)
	m = press(m, "/", "d", "b", "enter")
	if got := len(m.visible("db")); got != 1 {
		t.Fatalf("expected one filtered row, got %d", got)
	}
	m = press(m, "a")
	if st, _ := stateOf(t, s, "db-1"); st != model.StateAccepted {
		t.Fatalf("db-1 should be accepted from denied, got %s", st)
	}
	if st, _ := stateOf(t, s, "web-1"); st != model.StatePending {
		t.Fatalf("web-1 should be untouched, got %s", st)
	}
}

func TestReview_Quit(t *testing.T) {
	m, _ := newReview(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestReview_ReloadsOnKeyEvent(t *testing.T) {
	m, s := newReview(t)
	if err := s.Write("new-1", model.StatePending, testutil.SSHPublicKey(5)); err != nil {
		t.Fatal(err)
	}
	if len(m.rows) != 3 {
		t.Fatalf("rows must not change before an event, got %d", len(m.rows))
	}
	next, _ := m.Update(keyChangedMsg{ev: model.Event{Tag: model.TopicKey, Act: "pend", ID: "new-1"}})
	m = next.(Model)
	if len(m.rows) != 4 || !strings.Contains(m.View(), "new-1") {
		t.Fatalf("expected new-1 after reload, rows=%d", len(m.rows))
	}
}
