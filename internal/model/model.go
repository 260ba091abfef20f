// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared by the key store,
// the matcher, the transition engine and the user interfaces.
package model // import "github.com/toeirei/keyward/internal/model"

import (
	"fmt"
	"sort"
	"strings"
)

// KeyState is the authorization state of a key. The zero value is not a
// valid state.
type KeyState int

const (
	StateAccepted KeyState = iota + 1
	StatePending
	StateRejected
	StateDenied
	// StateLocal designates the store's own identity files. It is never
	// subject to accept/reject/delete.
	StateLocal
)

// RemoteStates lists the buckets holding remote minion keys, in the order
// they are reported.
var RemoteStates = []KeyState{StateAccepted, StatePending, StateRejected, StateDenied}

// Dir returns the on-disk directory name for the state. Local has no
// directory of its own.
func (s KeyState) Dir() string {
	switch s {
	case StateAccepted:
		return "minions"
	case StatePending:
		return "minions_pre"
	case StateRejected:
		return "minions_rejected"
	case StateDenied:
		return "minions_denied"
	default:
		return ""
	}
}

// Act returns the event verb for a transition into this state.
func (s KeyState) Act() string {
	switch s {
	case StateAccepted:
		return "accept"
	case StatePending:
		return "pend"
	case StateRejected:
		return "reject"
	case StateDenied:
		return "denied"
	default:
		return ""
	}
}

// String returns the long, human readable name of the state.
func (s KeyState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StatePending:
		return "pending"
	case StateRejected:
		return "rejected"
	case StateDenied:
		return "denied"
	case StateLocal:
		return "local"
	default:
		return fmt.Sprintf("KeyState(%d)", int(s))
	}
}

// MarshalText renders the state by its long name so listings encode as
// {"accepted": [...]} in JSON, YAML and CBOR.
func (s KeyState) MarshalText() ([]byte, error) {
	if s < StateAccepted || s > StateLocal {
		return nil, fmt.Errorf("invalid key state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts every alias understood by ParseState.
func (s *KeyState) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState resolves a state alias. It is the only place in the code base
// that interprets state names: short prefixes ("acc", "pre", "un", "rej",
// "den"), long names and the on-disk directory names are all accepted.
func ParseState(alias string) (KeyState, error) {
	a := strings.ToLower(strings.TrimSpace(alias))
	switch {
	case a == "":
		return 0, fmt.Errorf("empty key state")
	case a == "minions":
		return StateAccepted, nil
	case a == "minions_pre":
		return StatePending, nil
	case a == "minions_rejected":
		return StateRejected, nil
	case a == "minions_denied":
		return StateDenied, nil
	case strings.HasPrefix(a, "acc"):
		return StateAccepted, nil
	case strings.HasPrefix(a, "pre"), strings.HasPrefix(a, "un"), strings.HasPrefix(a, "pend"):
		return StatePending, nil
	case strings.HasPrefix(a, "rej"):
		return StateRejected, nil
	case strings.HasPrefix(a, "den"):
		return StateDenied, nil
	case a == "local":
		return StateLocal, nil
	}
	return 0, fmt.Errorf("unknown key state %q", alias)
}

// ParseStateFilter resolves a state alias or the literal "all". An empty
// slice result is never returned: "all" yields every remote state plus Local.
func ParseStateFilter(code string) ([]KeyState, error) {
	if strings.EqualFold(strings.TrimSpace(code), "all") {
		return append(append([]KeyState{}, RemoteStates...), StateLocal), nil
	}
	st, err := ParseState(code)
	if err != nil {
		return nil, err
	}
	return []KeyState{st}, nil
}

// KeyEntry is a single minion identity and its key material.
type KeyEntry struct {
	ID        string
	State     KeyState
	PublicKey string
	Role      string
}

// Listing maps every state to the ids it holds.
type Listing map[KeyState][]string

// NewListing returns a listing with an empty slice for every remote state.
func NewListing() Listing {
	l := Listing{}
	for _, st := range RemoteStates {
		l[st] = []string{}
	}
	return l
}

// Add appends id to the bucket for st.
func (l Listing) Add(st KeyState, id string) {
	l[st] = append(l[st], id)
}

// Len returns the number of ids across all buckets.
func (l Listing) Len() int {
	n := 0
	for _, ids := range l {
		n += len(ids)
	}
	return n
}

// Contains reports whether id is present in bucket st.
func (l Listing) Contains(st KeyState, id string) bool {
	for _, v := range l[st] {
		if v == id {
			return true
		}
	}
	return false
}

// StateOf returns the first bucket holding id.
func (l Listing) StateOf(id string) (KeyState, bool) {
	for _, st := range append(append([]KeyState{}, RemoteStates...), StateLocal) {
		if l.Contains(st, id) {
			return st, true
		}
	}
	return 0, false
}

// Sort orders every bucket case-insensitively.
func (l Listing) Sort() {
	for st := range l {
		SortIgnoreCase(l[st])
	}
}

// Compact drops empty buckets. Listings returned to users only show states
// that hold keys.
func (l Listing) Compact() Listing {
	out := Listing{}
	for st, ids := range l {
		if len(ids) > 0 {
			out[st] = ids
		}
	}
	return out
}

// Clone returns a deep copy.
func (l Listing) Clone() Listing {
	out := make(Listing, len(l))
	for st, ids := range l {
		out[st] = append([]string{}, ids...)
	}
	return out
}

// Only keeps the given states.
func (l Listing) Only(states ...KeyState) Listing {
	out := Listing{}
	for _, st := range states {
		if ids, ok := l[st]; ok {
			out[st] = ids
		}
	}
	return out
}

// SortIgnoreCase sorts ids by their lower-cased form, falling back to the
// raw value so the order is total.
func SortIgnoreCase(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		li, lj := strings.ToLower(ids[i]), strings.ToLower(ids[j])
		if li != lj {
			return li < lj
		}
		return ids[i] < ids[j]
	})
}
