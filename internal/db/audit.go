// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/model"
	"github.com/toeirei/keyward/internal/sshkey"
	"github.com/uptrace/bun"
)

// KeyEventModel maps the key_events table.
type KeyEventModel struct {
	bun.BaseModel `bun:"table:key_events"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Stamp         time.Time `bun:"stamp,notnull"`
	Username      string    `bun:"username"`
	Tag           string    `bun:"tag"`
	Act           string    `bun:"act"`
	MinionID      string    `bun:"minion_id"`
	Result        bool      `bun:"result"`
	Details       string    `bun:"details"`
}

func (m KeyEventModel) entry() model.AuditLogEntry {
	return model.AuditLogEntry{
		ID:        m.ID,
		Timestamp: m.Stamp,
		Username:  m.Username,
		Tag:       m.Tag,
		Act:       m.Act,
		MinionID:  m.MinionID,
		Result:    m.Result,
		Details:   m.Details,
	}
}

// AuditStore persists key events. It implements events.Publisher so it can
// be attached to the engine next to the other sinks.
type AuditStore struct {
	bun    *bun.DB
	dbType string
}

// Close releases the underlying connection pool.
func (s *AuditStore) Close() error { return s.bun.Close() }

// Type returns the configured database type.
func (s *AuditStore) Type() string { return s.dbType }

// Publish records ev. The offered key of an auth event is stored as its
// algorithm and sha256 fingerprint, never verbatim.
func (s *AuditStore) Publish(ctx context.Context, ev model.Event) error {
	stamp := ev.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	var details string
	if ev.Pub != "" {
		if d, err := fingerprint.Digest([]byte(ev.Pub), fingerprint.DefaultHash); err == nil {
			details = "pub " + sshkey.Algorithm(ev.Pub) + " sha256 " + d
		}
	}
	m := &KeyEventModel{
		Stamp:    stamp.UTC(),
		Username: currentUsername(),
		Tag:      ev.Tag,
		Act:      ev.Act,
		MinionID: ev.ID,
		Result:   ev.Result,
		Details:  details,
	}
	_, err := s.bun.NewInsert().Model(m).Exec(ctx)
	return MapDBError(err)
}

// Filter narrows Entries.
type Filter struct {
	MinionID string
	Tag      string
	Since    time.Time
	Limit    int
}

// Entries returns audit entries, most recent first.
func (s *AuditStore) Entries(ctx context.Context, f Filter) ([]model.AuditLogEntry, error) {
	var rows []KeyEventModel
	q := s.bun.NewSelect().Model(&rows).OrderExpr("stamp DESC, id DESC")
	if f.MinionID != "" {
		q = q.Where("minion_id = ?", f.MinionID)
	}
	if f.Tag != "" {
		q = q.Where("tag = ?", f.Tag)
	}
	if !f.Since.IsZero() {
		q = q.Where("stamp >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

// LastSeen returns the time of the most recent successful auth event for
// id. ok is false when the id never authenticated.
func (s *AuditStore) LastSeen(ctx context.Context, id string) (t time.Time, ok bool, err error) {
	var row KeyEventModel
	err = s.bun.NewSelect().Model(&row).
		Where("minion_id = ?", id).
		Where("tag = ?", model.TopicAuth).
		Where("result = ?", true).
		OrderExpr("stamp DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.Stamp, true, nil
}

// LastSeenAll returns the most recent successful auth time per minion id.
func (s *AuditStore) LastSeenAll(ctx context.Context) (map[string]time.Time, error) {
	var rows []KeyEventModel
	err := s.bun.NewSelect().Model(&rows).
		Column("minion_id", "stamp").
		Where("tag = ?", model.TopicAuth).
		Where("result = ?", true).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	for _, r := range rows {
		if cur, ok := out[r.MinionID]; !ok || r.Stamp.After(cur) {
			out[r.MinionID] = r.Stamp
		}
	}
	return out, nil
}

// Purge deletes events older than cutoff and returns how many went.
func (s *AuditStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var count int64
		if err := QueryRawInto(ctx, tx, &count, "SELECT COUNT(*) FROM key_events WHERE stamp < ?", cutoff.UTC()); err != nil {
			return err
		}
		if _, err := ExecRaw(ctx, tx, "DELETE FROM key_events WHERE stamp < ?", cutoff.UTC()); err != nil {
			return fmt.Errorf("purging key events: %w", err)
		}
		n = count
		return nil
	})
	return n, err
}

// currentUsername returns the OS user, without a Windows domain prefix.
func currentUsername() string {
	cur, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(cur.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return cur.Username
}
