// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/toeirei/keyward/internal/codec"
	"github.com/toeirei/keyward/internal/model"
)

// DefaultTimeout bounds a single socket delivery.
const DefaultTimeout = 2 * time.Second

// SocketPublisher sends each event as a CBOR envelope over a fresh
// connection to a unix socket. Nobody listening is not an error worth
// more than a debug line for the caller.
type SocketPublisher struct {
	Path    string
	Timeout time.Duration
}

// NewSocketPublisher returns a publisher for the socket at path.
func NewSocketPublisher(path string, timeout time.Duration) *SocketPublisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SocketPublisher{Path: path, Timeout: timeout}
}

func (p *SocketPublisher) Publish(ctx context.Context, ev model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", p.Path)
	if err != nil {
		return fmt.Errorf("event socket %s: %w", p.Path, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if err := codec.NewEncoder(conn).Encode(model.Envelope{Tag: ev.Tag, Data: ev}); err != nil {
		return fmt.Errorf("event socket %s: %w", p.Path, err)
	}
	return nil
}

// Listen accepts connections on a unix socket at path and calls fn for
// every decoded envelope until ctx is cancelled. A stale socket file is
// replaced. Open connections are closed on return, and Listen waits for
// their handlers, so fn is never called after Listen returns.
func Listen(ctx context.Context, path string, fn func(model.Envelope)) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		cancel()
		return err
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = map[net.Conn]struct{}{}
	)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()
	defer os.Remove(path)
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(conn, fn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

func serve(conn net.Conn, fn func(model.Envelope)) {
	defer conn.Close()
	dec := codec.NewDecoder(conn)
	for {
		var env model.Envelope
		if err := dec.Decode(&env); err != nil {
			// io.EOF is the normal end of a publisher connection
			return
		}
		env.Data.Tag = env.Tag
		fn(env)
	}
}
