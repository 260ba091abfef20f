// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package match

import (
	"strings"

	"github.com/toeirei/keyward/internal/model"
)

// Spec is a match expression the engine can resolve. Implementations are
// ExactSpec, GlobSpec, FullGlobSpec and DictSpec.
type Spec interface {
	Resolve(Lister) (model.Listing, error)
	String() string
}

// ExactSpec matches ids literally.
type ExactSpec []string

func (s ExactSpec) Resolve(l Lister) (model.Listing, error) { return Exact(l, s...) }
func (s ExactSpec) String() string { return strings.Join(s, ",") }

// GlobSpec matches ids with shell-style patterns.
type GlobSpec []string

func (s GlobSpec) Resolve(l Lister) (model.Listing, error) { return Glob(l, s...) }
func (s GlobSpec) String() string { return strings.Join(s, ",") }

// FullGlobSpec is GlobSpec including the local identity files.
type FullGlobSpec []string

func (s FullGlobSpec) Resolve(l Lister) (model.Listing, error) { return GlobFull(l, s...) }
func (s FullGlobSpec) String() string { return strings.Join(s, ",") }

// DictSpec is a listing returned by a previous match, passed through as is.
type DictSpec model.Listing

func (s DictSpec) Resolve(Lister) (model.Listing, error) { return Dict(model.Listing(s)), nil }

func (s DictSpec) String() string {
	var ids []string
	for _, st := range append(append([]model.KeyState{}, model.RemoteStates...), model.StateLocal) {
		ids = append(ids, s[st]...)
	}
	return strings.Join(ids, ",")
}

// Parse builds an ExactSpec when exact is set and a GlobSpec otherwise.
func Parse(expr string, exact bool) Spec {
	parts := Split(expr)
	if exact {
		return ExactSpec(parts)
	}
	return GlobSpec(parts)
}
