// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/keyward/internal/model"
)

func TestEnvelopeRoundtrip(t *testing.T) {
	in := model.Envelope{Tag: model.TopicAuth, Data: model.Event{
		Result: true, Act: "pend", ID: "web-1", Pub: "ssh-ed25519 AAAA",
		Stamp: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out model.Envelope
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Data.Stamp.Equal(in.Data.Stamp) {
		t.Fatalf("stamp mismatch: %v != %v", out.Data.Stamp, in.Data.Stamp)
	}
	out.Data.Stamp = in.Data.Stamp
	if out != in {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	ev := model.Envelope{Tag: model.TopicKey, Data: model.Event{Result: true, Act: "accept", ID: "db-1"}}
	a, err := Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("deterministic encoding violated: %x != %x", a, b)
	}
}

func TestStreamAndDiagnose(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, id := range []string{"a", "b"} {
		if err := enc.Encode(model.Envelope{Tag: model.TopicKey, Data: model.Event{ID: id}}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	dec := NewDecoder(&buf)
	for _, want := range []string{"a", "b"} {
		var got model.Envelope
		if err := dec.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Data.ID != want {
			t.Errorf("got %q want %q", got.Data.ID, want)
		}
	}

	data, _ := Marshal(map[string]string{"id": "web-1"})
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diag, `"web-1"`) {
		t.Errorf("unexpected diagnostic %s", diag)
	}
}
