// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"strings"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// uniqueMarkers are substrings of unique-violation messages: MySQL 1062,
// PostgreSQL 23505 and the SQLite "UNIQUE constraint failed" text.
var uniqueMarkers = []string{"duplicate", "unique", "23505", "1062"}

// MapDBError turns unique-constraint violations from any of the supported
// drivers into ErrDuplicate and passes other errors through. Matching is on
// the message so no driver types are imported here.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, m := range uniqueMarkers {
		if strings.Contains(msg, m) {
			return ErrDuplicate
		}
	}
	return err
}
