// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package match resolves user supplied match expressions into listings of
// stored keys. All functions are read-only and stateless.
package match

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/toeirei/keyward/internal/model"
)

// Lister is the read side of the key store the matcher needs.
type Lister interface {
	ListKeys() (model.Listing, error)
	AllKeys() (model.Listing, error)
}

// Split turns a comma separated expression into its non-empty parts.
func Split(expr string) []string {
	var out []string
	for _, p := range strings.Split(expr, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitAll(exprs []string) []string {
	var out []string
	for _, e := range exprs {
		out = append(out, Split(e)...)
	}
	return out
}

// Exact returns every remote id equal to one of the given ids. Wildcard
// characters have no special meaning.
func Exact(l Lister, ids ...string) (model.Listing, error) {
	keys, err := l.ListKeys()
	if err != nil {
		return nil, err
	}
	want := map[string]struct{}{}
	for _, id := range splitAll(ids) {
		want[id] = struct{}{}
	}
	ret := model.Listing{}
	for _, st := range model.RemoteStates {
		for _, id := range keys[st] {
			if _, ok := want[id]; ok {
				ret.Add(st, id)
			}
		}
	}
	return ret, nil
}

// Glob returns every remote id matching one of the shell-style patterns.
func Glob(l Lister, patterns ...string) (model.Listing, error) {
	keys, err := l.ListKeys()
	if err != nil {
		return nil, err
	}
	return filter(keys, model.RemoteStates, compile(splitAll(patterns))), nil
}

// GlobFull is Glob including the local identity files.
func GlobFull(l Lister, patterns ...string) (model.Listing, error) {
	keys, err := l.AllKeys()
	if err != nil {
		return nil, err
	}
	states := append(append([]model.KeyState{}, model.RemoteStates...), model.StateLocal)
	return filter(keys, states, compile(splitAll(patterns))), nil
}

// Dict returns a sorted copy of a listing produced by an earlier match. It
// is not re-checked against the store; ids that disappeared in between are
// no-ops for the engine.
func Dict(in model.Listing) model.Listing {
	out := in.Clone()
	out.Sort()
	return out
}

// ByState returns the buckets named by an alias code or "all". Requested
// buckets are present even when empty.
func ByState(l Lister, code string) (model.Listing, error) {
	states, err := model.ParseStateFilter(code)
	if err != nil {
		return nil, err
	}
	keys, err := l.AllKeys()
	if err != nil {
		return nil, err
	}
	ret := model.Listing{}
	for _, st := range states {
		ret[st] = append([]string{}, keys[st]...)
	}
	return ret, nil
}

type matcher func(string) bool

// braceEscaper quotes the characters glob.Compile would treat as
// alternation or escapes. Shell patterns only know *, ? and [...], so
// "x{1}" has to match the id "x{1}" and nothing else.
var braceEscaper = strings.NewReplacer(`\`, `\\`, `{`, `\{`, `}`, `\}`)

// CompileGlob compiles a shell pattern (*, ? and [...] classes, with [!...]
// negation). Every other character is literal.
func CompileGlob(pattern string) (glob.Glob, error) {
	return glob.Compile(braceEscaper.Replace(pattern))
}

func compile(patterns []string) []matcher {
	out := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		g, err := CompileGlob(p)
		if err != nil {
			// unparsable patterns match literally
			lit := p
			out = append(out, func(s string) bool { return s == lit })
			continue
		}
		out = append(out, g.Match)
	}
	return out
}

func filter(keys model.Listing, states []model.KeyState, ms []matcher) model.Listing {
	ret := model.Listing{}
	for _, st := range states {
		for _, id := range keys[st] {
			for _, m := range ms {
				if m(id) {
					ret.Add(st, id)
					break
				}
			}
		}
	}
	return ret
}
