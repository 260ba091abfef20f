// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package events announces committed key transitions. Publishing is fire
// and forget: a failing sink never rolls back a change already on disk.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/toeirei/keyward/internal/clock"
	"github.com/toeirei/keyward/internal/model"
)

// Publisher delivers an event to some sink.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev model.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, model.Event) error { return nil })

// New builds an event for topic with its stamp set.
func New(topic, act, id string, result bool) model.Event {
	return model.Event{Tag: topic, Result: result, Act: act, ID: id, Stamp: clock.Now().UTC()}
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler receives events from a Bus.
type Handler func(model.Event)

// Bus is an in-process publisher. Handlers run synchronously in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	order    []int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: map[int]Handler{}}
}

// Subscribe registers h and returns a function removing it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers ev to every handler. A panicking handler does not stop
// delivery to the others.
func (b *Bus) Publish(_ context.Context, ev model.Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := deliver(h, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(h Handler, ev model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanic{Value: r}
		}
	}()
	h(ev)
	return nil
}

// HandlerPanic reports a recovered panic from a bus handler.
type HandlerPanic struct{ Value any }

func (p *HandlerPanic) Error() string { return "event handler panicked" }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event{}, r.events...)
}

// Topic returns the recorded events published on tag.
func (r *Recorder) Topic(tag string) []model.Event {
	var out []model.Event
	for _, ev := range r.Events() {
		if ev.Tag == tag {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
