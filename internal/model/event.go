// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// Event topics.
const (
	TopicKey  = "key"
	TopicAuth = "auth"
)

// ActDelete is the event verb published for a removed key.
const ActDelete = "delete"

// Event is the notification published after a committed change. Tag is the
// channel the event was published on and is not part of the payload.
type Event struct {
	Tag    string    `json:"-" cbor:"-"`
	Result bool      `json:"result" cbor:"result"`
	Act    string    `json:"act,omitempty" cbor:"act,omitempty"`
	ID     string    `json:"id" cbor:"id"`
	Pub    string    `json:"pub,omitempty" cbor:"pub,omitempty"`
	Stamp  time.Time `json:"_stamp,omitempty" cbor:"_stamp,omitempty"`
}

// Envelope is the framed form of an event sent over the event socket.
type Envelope struct {
	Tag  string `cbor:"tag"`
	Data Event  `cbor:"data"`
}

// AuditLogEntry is a persisted event as read back from the audit store.
type AuditLogEntry struct {
	ID        int64
	Timestamp time.Time
	Username  string
	Tag       string
	Act       string
	MinionID  string
	Result    bool
	Details   string
}
