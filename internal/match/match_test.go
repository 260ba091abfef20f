// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package match

import (
	"errors"
	"reflect"
	"testing"

	"github.com/toeirei/keyward/internal/model"
)

type fakeLister struct {
	keys model.Listing
	err  error
}

func (f fakeLister) ListKeys() (model.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys.Only(model.RemoteStates...).Clone(), nil
}

func (f fakeLister) AllKeys() (model.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys.Clone(), nil
}

func sample() fakeLister {
	return fakeLister{keys: model.Listing{
		model.StateAccepted: {"ab", "db-1"},
		model.StatePending:  {"axb", "web-1", "web-2"},
		model.StateRejected: {"a*b"},
		model.StateDenied:   {},
		model.StateLocal:    {"master.pem", "master.pub"},
	}}
}

func expectListing(t *testing.T, got, want model.Listing) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("listing = %v, want %v", got, want)
	}
}

func TestExact_NoWildcards(t *testing.T) {
	got, err := Exact(sample(), "a*b")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StateRejected: {"a*b"}})
}

func TestGlob_MatchesAcrossStates(t *testing.T) {
	got, err := Glob(sample(), "a*b")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{
		model.StateAccepted: {"ab"},
		model.StatePending:  {"axb"},
		model.StateRejected: {"a*b"},
	})
}

func TestGlob_CommaSeparated(t *testing.T) {
	got, err := Glob(sample(), "web-?, db-*")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{
		model.StateAccepted: {"db-1"},
		model.StatePending:  {"web-1", "web-2"},
	})
}

func TestGlob_CharClasses(t *testing.T) {
	got, err := Glob(sample(), "web-[!1]")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StatePending: {"web-2"}})

	got, err = Glob(sample(), "web-[12]")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StatePending: {"web-1", "web-2"}})
}

func TestGlob_BracesAndBackslashAreLiteral(t *testing.T) {
	l := fakeLister{keys: model.Listing{
		model.StatePending: {`a\b`, "ab", "x1", "x{1}", "y", "z"},
	}}

	got, err := Glob(l, "x{1}")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StatePending: {"x{1}"}})

	got, err = Glob(l, `a\b`)
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StatePending: {`a\b`}})

	// no alternation either
	got, err = Glob(l, "{y,z}")
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 {
		t.Fatalf("braces must not alternate, got %v", got)
	}
}

func TestGlob_ExcludesLocalUnlessFull(t *testing.T) {
	got, err := Glob(sample(), "*")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got[model.StateLocal]; ok {
		t.Fatalf("local keys leaked into %v", got)
	}

	got, err = GlobFull(sample(), "master*")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StateLocal: {"master.pem", "master.pub"}})
}

func TestGlob_ZeroMatchesIsEmpty(t *testing.T) {
	got, err := Glob(sample(), "nothing*")
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestByState(t *testing.T) {
	got, err := ByState(sample(), "den")
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StateDenied: {}})

	got, err = ByState(sample(), "all")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected every state, got %v", got)
	}

	if _, err := ByState(sample(), "bogus"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestDict_PassThrough(t *testing.T) {
	in := model.Listing{model.StatePending: {"gone", "Alpha"}}
	got, err := DictSpec(in).Resolve(fakeLister{err: errors.New("unused")})
	if err != nil {
		t.Fatal(err)
	}
	expectListing(t, got, model.Listing{model.StatePending: {"Alpha", "gone"}})
	// input untouched
	if !reflect.DeepEqual(in[model.StatePending], []string{"gone", "Alpha"}) {
		t.Fatalf("input was modified: %v", in)
	}
}

func TestParse(t *testing.T) {
	if _, ok := Parse("a,b", true).(ExactSpec); !ok {
		t.Errorf("exact parse returned %T", Parse("a,b", true))
	}
	if got := Parse("a, b*,", false); !reflect.DeepEqual(got, GlobSpec{"a", "b*"}) {
		t.Errorf("Parse = %#v", got)
	}
}

func TestListerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Glob(fakeLister{err: boom}, "*"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
