// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package buildvars

import "testing"

func TestVersionOrDefault(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = ""
	if got := VersionOrDefault("dev"); got != "dev" {
		t.Errorf("got %q, want dev", got)
	}
	Version = "v1.0.0"
	if got := VersionOrDefault("dev"); got != "v1.0.0" {
		t.Errorf("got %q, want v1.0.0", got)
	}
}
