// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package keystore

import (
	"errors"
	"fmt"

	"github.com/toeirei/keyward/internal/model"
)

var (
	// ErrNotFound is returned by reads targeting an id that is not in the
	// requested state.
	ErrNotFound = errors.New("key not found")
	// ErrStoreUnavailable is returned when the store root itself cannot be
	// read. It is the only listing error callers should treat as fatal.
	ErrStoreUnavailable = errors.New("key store unavailable")
	// ErrInvalidID is returned for ids that cannot be used as file names.
	ErrInvalidID = errors.New("invalid minion id")
	// ErrInvalidState is returned when a remote operation is given the
	// Local state or an unknown state.
	ErrInvalidState = errors.New("invalid key state for operation")
)

// IOError wraps a filesystem failure for a single entry. It aborts only the
// operation on that entry.
type IOError struct {
	Op    string
	ID    string
	State model.KeyState
	Err   error
}

func (e *IOError) Error() string {
	if e.State == 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.ID, e.State, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is (or wraps) an *IOError.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}
