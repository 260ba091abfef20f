// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// Result is the outcome of a bulk transition. Changed lists the ids that
// actually moved, keyed by the state they were moved into (or out of, for
// deletes). Failed maps ids whose persistence failed to the error. Listing is
// the post-transition view of the matched ids.
type Result struct {
	Changed Listing
	Failed  map[string]error
	Listing Listing
}

// NewResult returns an empty result ready to be filled.
func NewResult() *Result {
	return &Result{Changed: Listing{}, Failed: map[string]error{}, Listing: Listing{}}
}

// ChangedIDs returns every changed id, in bucket order.
func (r *Result) ChangedIDs() []string {
	var out []string
	for _, st := range append(append([]KeyState{}, RemoteStates...), StateLocal) {
		out = append(out, r.Changed[st]...)
	}
	return out
}

// OK reports whether no id failed.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Snapshot is a point-in-time export of every remote entry in a store.
type Snapshot struct {
	SchemaVersion int               `json:"schema_version"`
	Entries       []SnapshotEntry   `json:"entries"`
	Local         map[string]string `json:"local,omitempty"`
}

// SnapshotEntry is one key in a Snapshot.
type SnapshotEntry struct {
	ID        string   `json:"id"`
	State     KeyState `json:"state"`
	PublicKey string   `json:"pub"`
	Role      string   `json:"role,omitempty"`
}
