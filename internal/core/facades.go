// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/toeirei/keyward/internal/backup"
	"github.com/toeirei/keyward/internal/clock"
	"github.com/toeirei/keyward/internal/crypto/ssh"
	"github.com/toeirei/keyward/internal/db"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

var (
	// ErrAuditDisabled is returned by operations that need the audit store.
	ErrAuditDisabled = errors.New("audit store is not enabled")
	// ErrKeyExists is returned when key generation would overwrite a key.
	ErrKeyExists = errors.New("key already exists")
)

// WriteBackup snapshots the store into w.
func (s *Services) WriteBackup(w io.Writer) (*model.Snapshot, error) {
	snap, err := backup.Export(s.Store)
	if err != nil {
		return nil, err
	}
	return snap, backup.Write(w, snap)
}

// RestoreOptions controls Restore.
type RestoreOptions struct {
	// Full deletes every remote key before applying the snapshot.
	Full bool
}

// Restore applies the snapshot read from r. Without Full, ids already
// stored are kept as they are.
func (s *Services) Restore(ctx context.Context, r io.Reader, opts RestoreOptions) (backup.Summary, error) {
	snap, err := backup.Read(r)
	if err != nil {
		return backup.Summary{}, err
	}
	if opts.Full {
		res, err := s.Engine.DeleteAll(ctx)
		if err != nil {
			return backup.Summary{}, err
		}
		if !res.OK() {
			return backup.Summary{}, fmt.Errorf("clear store before restore: %w", engine.FailedError(res))
		}
	}
	sum := backup.Apply(ctx, s.Store, s.Engine, snap)
	s.logger.Info("backup restored", "restored", sum.Restored.Len(), "skipped", len(sum.Skipped), "failed", len(sum.Failed))
	return sum, nil
}

// PruneOptions holds the inactivity thresholds of Prune. A zero duration
// disables that step.
type PruneOptions struct {
	RejectAfter time.Duration
	DeleteAfter time.Duration
}

// PruneResult reports the keys Prune acted on.
type PruneResult struct {
	Rejected *model.Result
	Deleted  *model.Result
}

// Prune retires accepted keys whose minion has not authenticated for a
// while. Ids idle longer than DeleteAfter are deleted, those idle longer
// than RejectAfter are rejected. Ids that never authenticated are left
// alone.
func (s *Services) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	out := PruneResult{Rejected: model.NewResult(), Deleted: model.NewResult()}
	if s.Audit == nil {
		return out, ErrAuditDisabled
	}
	seen, err := s.Audit.LastSeenAll(ctx)
	if err != nil {
		return out, err
	}
	keys, err := s.Store.ListKeys()
	if err != nil {
		return out, err
	}

	now := clock.Now()
	toReject, toDelete := model.Listing{}, model.Listing{}
	for _, id := range keys[model.StateAccepted] {
		last, ok := seen[id]
		if !ok {
			continue
		}
		idle := now.Sub(last)
		switch {
		case opts.DeleteAfter > 0 && idle > opts.DeleteAfter:
			toDelete.Add(model.StateAccepted, id)
		case opts.RejectAfter > 0 && idle > opts.RejectAfter:
			toReject.Add(model.StateAccepted, id)
		}
	}

	if toDelete.Len() > 0 {
		if out.Deleted, err = s.Engine.Delete(ctx, match.DictSpec(toDelete)); err != nil {
			return out, err
		}
	}
	if toReject.Len() > 0 {
		if out.Rejected, err = s.Engine.Reject(ctx, match.DictSpec(toReject), engine.RejectOptions{IncludeAccepted: true}); err != nil {
			return out, err
		}
	}
	return out, nil
}

// AuditEntries reads the audit log.
func (s *Services) AuditEntries(ctx context.Context, f db.Filter) ([]model.AuditLogEntry, error) {
	if s.Audit == nil {
		return nil, ErrAuditDisabled
	}
	return s.Audit.Entries(ctx, f)
}

// LastSeen returns when id last authenticated successfully.
func (s *Services) LastSeen(ctx context.Context, id string) (time.Time, bool, error) {
	if s.Audit == nil {
		return time.Time{}, false, ErrAuditDisabled
	}
	return s.Audit.LastSeen(ctx, id)
}

// PurgeAudit drops audit entries older than olderThan and, with compact
// set, runs database maintenance afterwards.
func (s *Services) PurgeAudit(ctx context.Context, olderThan time.Duration, compact bool) (int64, error) {
	if s.Audit == nil {
		return 0, ErrAuditDisabled
	}
	n, err := s.Audit.Purge(ctx, clock.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.logger.Info("audit log purged", "removed", n, "older_than", olderThan)
	if compact {
		if err := s.Audit.Maintain(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// GeneratedKey names the files written by GenKeys.
type GeneratedKey struct {
	PublicFile  string
	PrivateFile string
	Public      string
	// Fingerprint is the OpenSSH SHA256 fingerprint of Public.
	Fingerprint string
}

// GenKeys writes a new local identity <name>.pem (0600) and <name>.pub
// into the store root. An empty name selects local_key_name.
func (s *Services) GenKeys(name string, force bool) (GeneratedKey, error) {
	if name == "" {
		name = s.Config.LocalKeyName
	}
	if !keystore.ValidID(name) {
		return GeneratedKey{}, fmt.Errorf("%w: %q", keystore.ErrInvalidID, name)
	}
	out := GeneratedKey{PublicFile: name + ".pub", PrivateFile: name + ".pem"}
	if !force {
		if _, err := s.Store.LocalRead(out.PrivateFile); err == nil {
			return out, fmt.Errorf("%w: %s", ErrKeyExists, out.PrivateFile)
		}
	}
	kp, err := ssh.Generate(name, "")
	if err != nil {
		return out, err
	}
	if err := s.Store.LocalWrite(out.PrivateFile, kp.Private, 0o600); err != nil {
		return out, err
	}
	if err := s.Store.LocalWrite(out.PublicFile, kp.Public, 0o644); err != nil {
		return out, err
	}
	out.Public = kp.Public
	if out.Fingerprint, err = ssh.FingerprintSHA256(kp.Public); err != nil {
		return out, err
	}
	s.logger.Info("local key pair generated", "name", name)
	return out, nil
}

// GenAccept generates a key pair for minion id, stores the public half as
// accepted and returns both halves. The private key is not kept.
func (s *Services) GenAccept(ctx context.Context, id string, force bool) (ssh.KeyPair, error) {
	if !force {
		st, found, err := s.Store.Locate(id)
		if err != nil {
			return ssh.KeyPair{}, err
		}
		if found {
			return ssh.KeyPair{}, fmt.Errorf("%w: %s is %s", ErrKeyExists, id, st)
		}
	}
	kp, err := ssh.Generate(id, "")
	if err != nil {
		return ssh.KeyPair{}, err
	}
	if err := s.Engine.Preseed(ctx, id, kp.Public); err != nil {
		return ssh.KeyPair{}, err
	}
	return kp, nil
}
