// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/toeirei/keyward/internal/events"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/model"
)

// RegisterRequest is a minion presenting its public key.
type RegisterRequest struct {
	ID     string
	Pub    string
	Role   string
	Grains map[string]string
}

// Registration is the outcome of Register.
type Registration struct {
	ID    string
	State model.KeyState
	// Act is the verb published on the auth topic.
	Act string
	// Changed is set when the store was modified.
	Changed bool
}

// Authorized reports whether the minion may proceed.
func (r Registration) Authorized() bool { return r.State == model.StateAccepted }

// Register runs the authentication handshake for a presented key. It
// decides the id's state from what is stored, the auto-key policy and the
// role of the request, and publishes one auth event. State changes are
// also published on the key topic.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	reg := Registration{ID: req.ID}
	if !keystore.ValidID(req.ID) {
		return reg, fmt.Errorf("%w: %q", keystore.ErrInvalidID, req.ID)
	}
	if e.validateKeys {
		if err := fingerprint.Validate(req.Pub); err != nil {
			return reg, err
		}
	}

	reg, err := e.register(req)
	if err != nil && !errors.Is(err, ErrRoleConflict) {
		e.logger.Error("registration failed", "id", req.ID, "err", err)
		return reg, err
	}

	ok := reg.State == model.StateAccepted || reg.State == model.StatePending
	ev := events.New(model.TopicAuth, reg.Act, req.ID, ok)
	ev.Pub = req.Pub
	e.publish(ctx, ev)
	if reg.Changed {
		e.publish(ctx, events.New(model.TopicKey, reg.State.Act(), req.ID, true))
	}
	e.logger.Info("minion registration", "id", req.ID, "state", reg.State, "act", reg.Act)
	return reg, err
}

func (e *Engine) register(req RegisterRequest) (Registration, error) {
	id := req.ID
	reg := Registration{ID: id}

	if e.openMode {
		if err := e.place(id, model.StateAccepted, req.Pub, req.Role); err != nil {
			return reg, err
		}
		reg.State, reg.Act, reg.Changed = model.StateAccepted, model.StateAccepted.Act(), true
		return reg, nil
	}

	current, found, err := e.store.Locate(id)
	if err != nil {
		return reg, err
	}

	if found {
		switch current {
		case model.StateRejected:
			reg.State, reg.Act = model.StateRejected, model.StateRejected.Act()
			e.logger.Warn("public key rejected", "id", id)
			return reg, nil
		case model.StateDenied:
			reg.State, reg.Act = model.StateDenied, model.StateDenied.Act()
			e.logger.Warn("key is quarantined", "id", id)
			return reg, nil
		case model.StateAccepted:
			return e.registerKnown(req, model.StateAccepted)
		case model.StatePending:
			if e.policy.CheckAutoreject(id) {
				return e.moveTo(reg, model.StatePending, model.StateRejected)
			}
			return e.registerKnown(req, model.StatePending)
		}
	}

	if req.Role != "" {
		peers, err := e.rolePeers(req.Role, id)
		if err != nil {
			return reg, err
		}
		if len(peers) > 0 {
			for _, peer := range peers {
				if !fingerprint.Equal(peer.PublicKey, req.Pub) {
					if err := e.place(id, model.StateDenied, req.Pub, req.Role); err != nil {
						return reg, err
					}
					reg.State, reg.Act, reg.Changed = model.StateDenied, model.StateDenied.Act(), true
					return reg, fmt.Errorf("%w: %s differs from %s in role %q", ErrRoleConflict, id, peer.ID, req.Role)
				}
			}
			if err := e.place(id, model.StateAccepted, req.Pub, req.Role); err != nil {
				return reg, err
			}
			reg.State, reg.Act, reg.Changed = model.StateAccepted, model.StateAccepted.Act(), true
			return reg, nil
		}
	}

	target := model.StatePending
	switch {
	case e.policy.CheckAutoreject(id):
		target = model.StateRejected
	case e.policy.CheckAutosign(id, req.Grains):
		target = model.StateAccepted
	}
	if err := e.place(id, target, req.Pub, req.Role); err != nil {
		return reg, err
	}
	reg.State, reg.Act, reg.Changed = target, target.Act(), true
	return reg, nil
}

// registerKnown handles an id already stored as Accepted or Pending.
func (e *Engine) registerKnown(req RegisterRequest, current model.KeyState) (Registration, error) {
	reg := Registration{ID: req.ID}
	entry, err := e.store.Read(req.ID, current)
	if err != nil {
		return reg, err
	}
	if !fingerprint.Equal(entry.PublicKey, req.Pub) {
		e.logger.Error("public keys did not match, quarantining", "id", req.ID, "state", current)
		return e.moveTo(reg, current, model.StateDenied)
	}
	if current == model.StatePending && e.policy.CheckAutosign(req.ID, req.Grains) {
		return e.moveTo(reg, model.StatePending, model.StateAccepted)
	}
	reg.State, reg.Act = current, current.Act()
	return reg, nil
}

func (e *Engine) moveTo(reg Registration, from, to model.KeyState) (Registration, error) {
	moved, err := e.store.Move(reg.ID, from, to)
	if err != nil {
		return reg, err
	}
	reg.State, reg.Act, reg.Changed = to, to.Act(), moved
	return reg, nil
}

// place writes pub into st and drops copies in every other state.
func (e *Engine) place(id string, st model.KeyState, pub, role string) error {
	if err := e.store.Write(id, st, pub); err != nil {
		return err
	}
	for _, other := range model.RemoteStates {
		if other == st {
			continue
		}
		if _, err := e.store.Remove(id, other); err != nil {
			return err
		}
	}
	if role != "" {
		return e.store.SetRole(id, role)
	}
	return nil
}

// rolePeers returns the accepted entries carrying role, excluding self.
func (e *Engine) rolePeers(role, self string) ([]model.KeyEntry, error) {
	keys, err := e.store.ListKeys()
	if err != nil {
		return nil, err
	}
	var out []model.KeyEntry
	for _, id := range keys[model.StateAccepted] {
		if id == self {
			continue
		}
		r, err := e.store.Role(id)
		if err != nil || r != role {
			continue
		}
		entry, err := e.store.Read(id, model.StateAccepted)
		if err != nil {
			if errors.Is(err, keystore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Preseed stores pub for id as Accepted, replacing whatever state held the
// id, and publishes an accept event. It backs generated minion keys.
func (e *Engine) Preseed(ctx context.Context, id, pub string) error {
	if !keystore.ValidID(id) {
		return fmt.Errorf("%w: %q", keystore.ErrInvalidID, id)
	}
	if e.validateKeys {
		if err := fingerprint.Validate(pub); err != nil {
			return err
		}
	}
	if err := e.place(id, model.StateAccepted, pub, ""); err != nil {
		return err
	}
	e.logger.Info("key preseeded", "id", id)
	e.publish(ctx, events.New(model.TopicKey, model.StateAccepted.Act(), id, true))
	return nil
}

// Restore places a backed up entry for id in st, with its role, and
// publishes the matching key event. Key material is not re-validated: it
// was accepted by the store that produced the backup.
func (e *Engine) Restore(ctx context.Context, id string, st model.KeyState, pub, role string) error {
	if !keystore.ValidID(id) {
		return fmt.Errorf("%w: %q", keystore.ErrInvalidID, id)
	}
	if st.Dir() == "" {
		return fmt.Errorf("%w: %s", keystore.ErrInvalidState, st)
	}
	if err := e.place(id, st, pub, role); err != nil {
		return err
	}
	e.logger.Info("key restored", "id", id, "state", st)
	e.publish(ctx, events.New(model.TopicKey, st.Act(), id, true))
	return nil
}
