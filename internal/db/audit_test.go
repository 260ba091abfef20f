// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/keyward/internal/model"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *AuditStore {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ev(tag, act, id string, ok bool, at time.Time) model.Event {
	return model.Event{Tag: tag, Act: act, ID: id, Result: ok, Stamp: at}
}

func TestPublishAndEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	auth := ev(model.TopicAuth, "pend", "web-1", true, base)
	auth.Pub = "ssh-ed25519 AAAA"
	for _, e := range []model.Event{
		auth,
		ev(model.TopicKey, "accept", "web-1", true, base.Add(time.Minute)),
		ev(model.TopicKey, "delete", "db-1", true, base.Add(2*time.Minute)),
	} {
		if err := s.Publish(ctx, e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	all, err := s.Entries(ctx, Filter{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].MinionID != "db-1" || all[0].Act != "delete" {
		t.Errorf("expected newest first, got %+v", all[0])
	}
	if all[2].Details == "" || !strings.HasPrefix(all[2].Details, "pub ssh-ed25519 sha256 ") {
		t.Errorf("expected fingerprint details, got %q", all[2].Details)
	}
	if strings.Contains(all[2].Details, "AAAA") {
		t.Errorf("key material must not be stored verbatim: %q", all[2].Details)
	}

	web, err := s.Entries(ctx, Filter{MinionID: "web-1", Tag: model.TopicKey})
	if err != nil {
		t.Fatalf("Entries filtered: %v", err)
	}
	if len(web) != 1 || web[0].Act != "accept" {
		t.Errorf("unexpected filtered entries: %+v", web)
	}

	limited, err := s.Entries(ctx, Filter{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %v %d", err, len(limited))
	}
}

func TestLastSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	_, ok, err := s.LastSeen(ctx, "web-1")
	if err != nil || ok {
		t.Fatalf("never-seen id: ok=%v err=%v", ok, err)
	}

	for _, e := range []model.Event{
		ev(model.TopicAuth, "accept", "web-1", true, base),
		ev(model.TopicAuth, "accept", "web-1", true, base.Add(time.Hour)),
		ev(model.TopicAuth, "denied", "web-1", false, base.Add(2*time.Hour)),
		ev(model.TopicKey, "accept", "web-1", true, base.Add(3*time.Hour)),
		ev(model.TopicAuth, "accept", "db-1", true, base.Add(30*time.Minute)),
	} {
		if err := s.Publish(ctx, e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got, ok, err := s.LastSeen(ctx, "web-1")
	if err != nil || !ok {
		t.Fatalf("LastSeen: ok=%v err=%v", ok, err)
	}
	if !got.Equal(base.Add(time.Hour)) {
		t.Errorf("LastSeen = %v, want %v", got, base.Add(time.Hour))
	}

	all, err := s.LastSeenAll(ctx)
	if err != nil {
		t.Fatalf("LastSeenAll: %v", err)
	}
	if len(all) != 2 || !all["db-1"].Equal(base.Add(30*time.Minute)) {
		t.Errorf("unexpected LastSeenAll: %v", all)
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Publish(ctx, ev(model.TopicKey, "accept", "m", true, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Purge(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	left, _ := s.Entries(ctx, Filter{})
	if len(left) != 1 {
		t.Errorf("expected 1 entry left, got %d", len(left))
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestRunMigrationsSqlite(t *testing.T) {
	dbConn, err := sql.Open("sqlite", "file:test_migrations?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = dbConn.Close() }()

	// applying twice is a no-op
	for i := 0; i < 2; i++ {
		if err := RunMigrations(dbConn, "sqlite"); err != nil {
			t.Fatalf("RunMigrations failed: %v", err)
		}
	}

	var count int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("query schema_migrations failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 migrations applied, got %d", count)
	}
}

func TestMaintainSqlite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Publish(ctx, ev(model.TopicKey, "accept", "m", true, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Maintain(ctx); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if got, _ := s.Entries(ctx, Filter{}); len(got) != 1 {
		t.Errorf("maintenance must keep entries, got %d", len(got))
	}
}

func TestRunMigrations_UnsupportedType(t *testing.T) {
	dbConn, err := sql.Open("sqlite", "file:test_unsupported?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dbConn.Close() }()
	if err := RunMigrations(dbConn, "oracle"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestMapDBError(t *testing.T) {
	if MapDBError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if !errors.Is(MapDBError(errors.New("UNIQUE constraint failed: x")), ErrDuplicate) {
		t.Fatal("unique violation should map to ErrDuplicate")
	}
	other := errors.New("boom")
	if MapDBError(other) != other {
		t.Fatal("other errors pass through")
	}
}
