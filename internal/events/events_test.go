// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package events

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toeirei/keyward/internal/clock"
	"github.com/toeirei/keyward/internal/codec"
	"github.com/toeirei/keyward/internal/model"
)

func TestBus_FanOutAndUnsubscribe(t *testing.T) {
	b := NewBus()
	var a, c []string
	unsubA := b.Subscribe(func(ev model.Event) { a = append(a, ev.ID) })
	b.Subscribe(func(ev model.Event) { c = append(c, ev.ID) })

	if err := b.Publish(context.Background(), New(model.TopicKey, "accept", "m1", true)); err != nil {
		t.Fatal(err)
	}
	unsubA()
	if err := b.Publish(context.Background(), New(model.TopicKey, "accept", "m2", true)); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(a, []string{"m1"}) {
		t.Errorf("unsubscribed handler saw %v", a)
	}
	if !reflect.DeepEqual(c, []string{"m1", "m2"}) {
		t.Errorf("handler saw %v", c)
	}
}

func TestBus_PanickingHandler(t *testing.T) {
	b := NewBus()
	got := 0
	b.Subscribe(func(model.Event) { panic("boom") })
	b.Subscribe(func(model.Event) { got++ })

	err := b.Publish(context.Background(), model.Event{})
	var hp *HandlerPanic
	if !errors.As(err, &hp) {
		t.Fatalf("expected HandlerPanic, got %v", err)
	}
	if got != 1 {
		t.Errorf("second handler ran %d times", got)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := &Recorder{}
	m := Multi{rec, nil, PublisherFunc(func(context.Context, model.Event) error { return boom })}
	err := m.Publish(context.Background(), New(model.TopicKey, "reject", "m1", true))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(rec.Events()) != 1 || rec.Topic(model.TopicKey)[0].Act != "reject" {
		t.Errorf("recorder saw %+v", rec.Events())
	}
}

func TestNew_UsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(clock.NewFake(fixed))
	t.Cleanup(clock.Reset)

	ev := New(model.TopicAuth, "pend", "m1", true)
	if !ev.Stamp.Equal(fixed) || ev.Tag != model.TopicAuth {
		t.Errorf("unexpected event %+v", ev)
	}
}

func socketPath(t *testing.T) string {
	t.Helper()
	// t.TempDir can exceed the unix socket path limit
	dir, err := os.MkdirTemp("", "kw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ev.sock")
}

func dialWhenReady(t *testing.T, path string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSocket_PublishAndListen(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan model.Envelope, 1)
	done := make(chan error, 1)
	go func() { done <- Listen(ctx, path, func(e model.Envelope) { got <- e }) }()

	dialWhenReady(t, path).Close()
	pub := NewSocketPublisher(path, time.Second)
	if err := pub.Publish(context.Background(), New(model.TopicKey, "accept", "web-1", true)); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-got:
		if env.Tag != model.TopicKey || env.Data.Tag != model.TopicKey || env.Data.ID != "web-1" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Listen: %v", err)
	}
}

func TestListen_ClosesOpenConnectionsOnCancel(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	received := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, path, func(model.Envelope) {
			calls.Add(1)
			received <- struct{}{}
		})
	}()

	// a peer that never hangs up
	conn := dialWhenReady(t, path)
	defer conn.Close()
	enc := codec.NewEncoder(conn)
	if err := enc.Encode(model.Envelope{Tag: model.TopicKey, Data: New(model.TopicKey, "accept", "m1", true)}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen kept running with an open peer")
	}

	// the server side is gone, so nothing more reaches fn
	_ = enc.Encode(model.Envelope{Tag: model.TopicKey, Data: New(model.TopicKey, "accept", "m2", true)})
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("fn called %d times, want 1", n)
	}
}

func TestSocket_NoListener(t *testing.T) {
	pub := NewSocketPublisher(filepath.Join(t.TempDir(), "missing.sock"), 0)
	if pub.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v", pub.Timeout)
	}
	if err := pub.Publish(context.Background(), model.Event{}); err == nil {
		t.Error("expected error without a listener")
	}
}
