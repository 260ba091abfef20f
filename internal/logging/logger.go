// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging holds the process-wide structured logger. Components that
// accept a *log.Logger default to L when none is injected.
package logging

import (
	"fmt"
	"os"

	clog "github.com/charmbracelet/log"
)

// L is the logger used when a component is built without one. Output goes
// to stderr so stdout stays reserved for command results.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: false})

// SetDebug switches L between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// Or returns l, or L when l is nil.
func Or(l *clog.Logger) *clog.Logger {
	if l != nil {
		return l
	}
	return L
}

// Debugf logs a formatted debug message on L.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}
