// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package engine applies state transitions to stored keys. Every id in a
// batch is handled on its own: a failure on one id is recorded and the batch
// continues. One event is published per committed change.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/toeirei/keyward/internal/events"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/logging"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

// ErrRoleConflict is returned by Register when a new id claims a role whose
// accepted members hold a different key.
var ErrRoleConflict = errors.New("role conflict")

// Store is the key store surface the engine drives.
type Store interface {
	match.Lister
	Read(id string, st model.KeyState) (model.KeyEntry, error)
	Write(id string, st model.KeyState, pub string) error
	Move(id string, from, to model.KeyState) (bool, error)
	Remove(id string, st model.KeyState) (bool, error)
	Locate(id string) (model.KeyState, bool, error)
	Role(id string) (string, error)
	SetRole(id, role string) error
	ClearRole(id string) error
}

// Policy decides automatic signing and rejection during registration.
type Policy interface {
	CheckAutosign(id string, grains map[string]string) bool
	CheckAutoreject(id string) bool
}

type noPolicy struct{}

func (noPolicy) CheckAutosign(string, map[string]string) bool { return false }
func (noPolicy) CheckAutoreject(string) bool { return false }

// Engine is the transition engine. Construct with New.
type Engine struct {
	store        Store
	publisher    events.Publisher
	policy       Policy
	logger       *log.Logger
	validateKeys bool
	openMode     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithPolicy sets the auto-key policy consulted by Register.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithValidation makes Accept and Register refuse key material that does
// not parse as a public key.
func WithValidation(on bool) Option { return func(e *Engine) { e.validateKeys = on } }

// WithOpenMode makes Register accept every offered key, overwriting what
// is stored.
func WithOpenMode(on bool) Option { return func(e *Engine) { e.openMode = on } }

// New returns an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, publisher: events.Nop, policy: noPolicy{}}
	for _, o := range opts {
		o(e)
	}
	e.logger = logging.Or(e.logger)
	if e.publisher == nil {
		e.publisher = events.Nop
	}
	if e.policy == nil {
		e.policy = noPolicy{}
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

// AcceptOptions widens the set of states Accept takes keys from.
type AcceptOptions struct {
	IncludeRejected bool
	IncludeDenied   bool
}

// RejectOptions widens the set of states Reject takes keys from.
type RejectOptions struct {
	IncludeAccepted bool
	IncludeDenied   bool
}

// Accept moves every matched key in an eligible state to Accepted. Pending
// is always eligible; Rejected and Denied only when requested. Keys already
// accepted are left alone.
func (e *Engine) Accept(ctx context.Context, spec match.Spec, opts AcceptOptions) (*model.Result, error) {
	from := []model.KeyState{model.StatePending}
	if opts.IncludeRejected {
		from = append(from, model.StateRejected)
	}
	if opts.IncludeDenied {
		from = append(from, model.StateDenied)
	}
	return e.transition(ctx, spec, from, model.StateAccepted)
}

// AcceptAll accepts every pending key.
func (e *Engine) AcceptAll(ctx context.Context) (*model.Result, error) {
	spec, err := e.bucket(model.StatePending)
	if err != nil {
		return nil, err
	}
	return e.Accept(ctx, spec, AcceptOptions{})
}

// Reject moves every matched key in an eligible state to Rejected. Pending
// is always eligible; Accepted and Denied only when requested.
func (e *Engine) Reject(ctx context.Context, spec match.Spec, opts RejectOptions) (*model.Result, error) {
	from := []model.KeyState{model.StatePending}
	if opts.IncludeAccepted {
		from = append(from, model.StateAccepted)
	}
	if opts.IncludeDenied {
		from = append(from, model.StateDenied)
	}
	return e.transition(ctx, spec, from, model.StateRejected)
}

// RejectAll rejects every pending key.
func (e *Engine) RejectAll(ctx context.Context) (*model.Result, error) {
	spec, err := e.bucket(model.StatePending)
	if err != nil {
		return nil, err
	}
	return e.Reject(ctx, spec, RejectOptions{})
}

// Delete removes every matched key from whichever remote state holds it.
func (e *Engine) Delete(ctx context.Context, spec match.Spec) (*model.Result, error) {
	l, err := spec.Resolve(e.store)
	if err != nil {
		return nil, err
	}
	res := model.NewResult()
	for _, st := range model.RemoteStates {
		for _, id := range l[st] {
			removed, err := e.store.Remove(id, st)
			if err != nil {
				e.fail(res, id, err)
				continue
			}
			if !removed {
				continue
			}
			e.clearRole(id)
			res.Changed.Add(st, id)
			e.logger.Info("key deleted", "id", id, "state", st)
			e.publish(ctx, events.New(model.TopicKey, model.ActDelete, id, true))
		}
	}
	res.Listing = e.post(l)
	return res, nil
}

// DeleteAll removes every remote key. Local identity files are kept.
func (e *Engine) DeleteAll(ctx context.Context) (*model.Result, error) {
	keys, err := e.store.ListKeys()
	if err != nil {
		return nil, err
	}
	return e.Delete(ctx, match.DictSpec(keys))
}

// DeleteDenied flushes the Denied bucket.
func (e *Engine) DeleteDenied(ctx context.Context) (*model.Result, error) {
	spec, err := e.bucket(model.StateDenied)
	if err != nil {
		return nil, err
	}
	return e.Delete(ctx, spec)
}

func (e *Engine) bucket(st model.KeyState) (match.Spec, error) {
	keys, err := e.store.ListKeys()
	if err != nil {
		return nil, err
	}
	return match.DictSpec{st: keys[st]}, nil
}

func (e *Engine) transition(ctx context.Context, spec match.Spec, from []model.KeyState, to model.KeyState) (*model.Result, error) {
	l, err := spec.Resolve(e.store)
	if err != nil {
		return nil, err
	}
	res := model.NewResult()
	for _, st := range from {
		for _, id := range l[st] {
			if to == model.StateAccepted && e.validateKeys {
				entry, err := e.store.Read(id, st)
				if errors.Is(err, keystore.ErrNotFound) {
					continue
				}
				if err != nil {
					e.fail(res, id, err)
					continue
				}
				if err := fingerprint.Validate(entry.PublicKey); err != nil {
					e.fail(res, id, err)
					continue
				}
			}
			moved, err := e.store.Move(id, st, to)
			if err != nil {
				e.fail(res, id, err)
				continue
			}
			if !moved {
				continue
			}
			res.Changed.Add(to, id)
			e.logger.Info("key "+to.String(), "id", id, "from", st)
			e.publish(ctx, events.New(model.TopicKey, to.Act(), id, true))
		}
	}
	res.Listing = e.post(l)
	return res, nil
}

// post returns the current state of every id in l.
func (e *Engine) post(l model.Listing) model.Listing {
	var ids []string
	for _, st := range model.RemoteStates {
		ids = append(ids, l[st]...)
	}
	if len(ids) == 0 {
		return model.Listing{}
	}
	out, err := match.Exact(e.store, ids...)
	if err != nil {
		e.logger.Warn("unable to list keys after transition", "err", err)
		return model.Listing{}
	}
	return out
}

func (e *Engine) fail(res *model.Result, id string, err error) {
	res.Failed[id] = err
	e.logger.Error("key transition failed", "id", id, "err", err)
}

func (e *Engine) clearRole(id string) {
	if _, ok, err := e.store.Locate(id); err == nil && !ok {
		if err := e.store.ClearRole(id); err != nil {
			e.logger.Warn("unable to clear role", "id", id, "err", err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev model.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("event publish failed", "tag", ev.Tag, "id", ev.ID, "err", err)
	}
}

// FailedError summarises a result whose every operation failed, so front
// ends can turn total failure into a non-zero exit.
func FailedError(res *model.Result) error {
	if res == nil || res.OK() || res.Changed.Len() > 0 {
		return nil
	}
	var errs []error
	for id, err := range res.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	return errors.Join(errs...)
}
