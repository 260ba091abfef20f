// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup exports the key store to a zstd-compressed JSON snapshot
// and applies such snapshots back.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/model"
)

// SchemaVersion is written into every snapshot.
const SchemaVersion = 1

// Store is the key store surface used by backups.
type Store interface {
	ListKeys() (model.Listing, error)
	LocalKeys() ([]string, error)
	Read(id string, st model.KeyState) (model.KeyEntry, error)
	LocalRead(name string) (string, error)
	LocalWrite(name, content string, perm os.FileMode) error
	Locate(id string) (model.KeyState, bool, error)
}

// Placer commits a restored entry. The transition engine implements it so
// restored keys publish events like every other change.
type Placer interface {
	Restore(ctx context.Context, id string, st model.KeyState, pub, role string) error
}

// ErrPrivateLocal is recorded for snapshot local files that are not public
// keys.
var ErrPrivateLocal = errors.New("only public local keys can be restored")

// Export snapshots every remote entry with its role, plus the public local
// identity files. Private local keys (*.pem) are never exported.
func Export(st Store) (*model.Snapshot, error) {
	keys, err := st.ListKeys()
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{SchemaVersion: SchemaVersion, Local: map[string]string{}}
	for _, state := range model.RemoteStates {
		for _, id := range keys[state] {
			e, err := st.Read(id, state)
			if errors.Is(err, keystore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", id, err)
			}
			snap.Entries = append(snap.Entries, model.SnapshotEntry{ID: id, State: state, PublicKey: e.PublicKey, Role: e.Role})
		}
	}
	local, err := st.LocalKeys()
	if err != nil {
		return nil, err
	}
	for _, name := range local {
		if !strings.HasSuffix(name, ".pub") {
			continue
		}
		pub, err := st.LocalRead(name)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		snap.Local[name] = pub
	}
	return snap, nil
}

// Write encodes snap as indented JSON inside a zstd stream.
func Write(w io.Writer, snap *model.Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (*model.Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var snap model.Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	if snap.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("backup schema version %d is newer than supported %d", snap.SchemaVersion, SchemaVersion)
	}
	return &snap, nil
}

// Summary reports what Apply did.
type Summary struct {
	Restored model.Listing
	Skipped  []string
	Failed   map[string]error
}

// Apply places every snapshot entry whose id is not already stored through
// p. Local identity files are only written when missing, and only *.pub
// names are accepted. Failures are per entry.
func Apply(ctx context.Context, st Store, p Placer, snap *model.Snapshot) Summary {
	sum := Summary{Restored: model.Listing{}, Failed: map[string]error{}}
	for _, e := range snap.Entries {
		if e.State.Dir() == "" {
			sum.Failed[e.ID] = fmt.Errorf("%w: %s", keystore.ErrInvalidState, e.State)
			continue
		}
		_, found, err := st.Locate(e.ID)
		if err != nil {
			sum.Failed[e.ID] = err
			continue
		}
		if found {
			sum.Skipped = append(sum.Skipped, e.ID)
			continue
		}
		if err := p.Restore(ctx, e.ID, e.State, e.PublicKey, e.Role); err != nil {
			sum.Failed[e.ID] = err
			continue
		}
		sum.Restored.Add(e.State, e.ID)
	}
	for name, pub := range snap.Local {
		if !strings.HasSuffix(name, ".pub") {
			sum.Failed[name] = fmt.Errorf("%w: %s", ErrPrivateLocal, name)
			continue
		}
		if _, err := st.LocalRead(name); err == nil {
			continue
		} else if !errors.Is(err, keystore.ErrNotFound) {
			sum.Failed[name] = err
			continue
		}
		if err := st.LocalWrite(name, pub, 0o644); err != nil {
			sum.Failed[name] = err
			continue
		}
		sum.Restored.Add(model.StateLocal, name)
	}
	sum.Restored.Sort()
	return sum
}
