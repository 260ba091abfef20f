// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db is the audit log of key events.
//
// Every event the transition engine publishes can be persisted in the
// key_events table through an AuditStore, which implements the event
// publisher interface. SQLite (modernc), PostgreSQL (pgx) and MySQL are
// supported through Bun; schema migrations are embedded per dialect and
// applied on Open.
//
// Testing notes
//   - Use an in-memory SQLite DSN such as
//     "file:<name>?mode=memory&cache=shared" to get real migrations without
//     touching disk.
package db
