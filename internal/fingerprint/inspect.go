// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package fingerprint

import (
	"github.com/charmbracelet/log"
	"github.com/toeirei/keyward/internal/logging"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

// Store is the read side of the key store needed for introspection.
type Store interface {
	match.Lister
	Read(id string, st model.KeyState) (model.KeyEntry, error)
	LocalRead(name string) (string, error)
}

// Inspector renders and fingerprints stored keys.
type Inspector struct {
	store  Store
	logger *log.Logger
}

// NewInspector returns an Inspector over store. A nil logger selects the
// package logger.
func NewInspector(store Store, logger *log.Logger) *Inspector {
	return &Inspector{store: store, logger: logging.Or(logger)}
}

// KeyMap is the per-state id -> value rendering used by KeyString and
// Finger.
type KeyMap map[model.KeyState]map[string]string

// KeyString returns the raw key text of every matched entry. Unreadable
// entries render as InvalidMarker.
func (in *Inspector) KeyString(spec match.Spec) (KeyMap, error) {
	l, err := spec.Resolve(in.store)
	if err != nil {
		return nil, err
	}
	out := KeyMap{}
	for st, ids := range l {
		for _, id := range ids {
			data, err := in.read(id, st)
			if err != nil {
				in.logger.Warn("unable to read key", "id", id, "state", st, "err", err)
				data = InvalidMarker
			}
			put(out, st, id, data)
		}
	}
	return out, nil
}

// Finger fingerprints every matched entry. Malformed material still gets a
// best-effort digest of its bytes; only unreadable entries become
// InvalidMarker. Each problem is logged once per call.
func (in *Inspector) Finger(spec match.Spec, hashType string) (KeyMap, error) {
	if _, err := NewHash(hashType); err != nil {
		return nil, err
	}
	l, err := spec.Resolve(in.store)
	if err != nil {
		return nil, err
	}
	return in.finger(l, hashType), nil
}

// FingerAll fingerprints every key in the store, local identities included.
func (in *Inspector) FingerAll(hashType string) (KeyMap, error) {
	if _, err := NewHash(hashType); err != nil {
		return nil, err
	}
	l, err := in.store.AllKeys()
	if err != nil {
		return nil, err
	}
	return in.finger(l, hashType), nil
}

func (in *Inspector) finger(l model.Listing, hashType string) KeyMap {
	out := KeyMap{}
	for st, ids := range l {
		for _, id := range ids {
			data, err := in.read(id, st)
			if err != nil {
				in.logger.Warn("unable to read key for fingerprint", "id", id, "state", st, "err", err)
				put(out, st, id, InvalidMarker)
				continue
			}
			if st != model.StateLocal {
				if verr := Validate(data); verr != nil {
					in.logger.Warn("fingerprinting malformed key material", "id", id, "state", st, "err", verr)
				}
			}
			// hash type was checked by the caller
			d, _ := Digest([]byte(data), hashType)
			put(out, st, id, d)
		}
	}
	return out
}

func (in *Inspector) read(id string, st model.KeyState) (string, error) {
	if st == model.StateLocal {
		return in.store.LocalRead(id)
	}
	e, err := in.store.Read(id, st)
	if err != nil {
		return "", err
	}
	return e.PublicKey, nil
}

func put(m KeyMap, st model.KeyState, id, v string) {
	if m[st] == nil {
		m[st] = map[string]string{}
	}
	m[st][id] = v
}
