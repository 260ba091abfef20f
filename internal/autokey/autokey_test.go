// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package autokey

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/clock"
)

const pki = "/pki"

func writeFile(t *testing.T, fs afero.Fs, path, content string, mode os.FileMode) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := fs.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestAutoAcceptOverridesEverything(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/autoreject", "*\n", 0o644)
	p := New(fs, pki, Config{AutoAccept: true, AutorejectFile: "/etc/autoreject"}, nil)

	if !p.CheckAutosign("anything", nil) {
		t.Error("auto_accept should sign every id")
	}
	if p.CheckAutoreject("anything") {
		t.Error("auto_accept should disable autoreject")
	}
}

func TestSigningFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/autosign", "# trusted hosts\nweb-*\n\ndb-[0-9]+\n", 0o600)
	p := New(fs, pki, Config{AutosignFile: "/etc/autosign"}, nil)

	for id, want := range map[string]bool{
		"web-1":           true,
		"db-12":           true,
		"mail":            false,
		"# trusted hosts": false,
	} {
		if got := p.CheckAutosign(id, nil); got != want {
			t.Errorf("CheckAutosign(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestSigningFile_ReloadsOnMtimeChange(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/autosign", "web-1\n", 0o600)
	p := New(fs, pki, Config{AutosignFile: "/etc/autosign"}, nil)
	if p.CheckAutosign("web-2", nil) {
		t.Fatal("web-2 is not listed yet")
	}

	writeFile(t, fs, "/etc/autosign", "web-2\n", 0o600)
	later := time.Now().Add(time.Minute)
	if err := fs.Chtimes("/etc/autosign", later, later); err != nil {
		t.Fatal(err)
	}
	if !p.CheckAutosign("web-2", nil) {
		t.Fatal("changed file should be reloaded")
	}
}

func TestSigningFile_Permissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/world", "*\n", 0o666)
	writeFile(t, fs, "/etc/group", "*\n", 0o660)

	strict := New(fs, pki, Config{AutosignFile: "/etc/world", AutorejectFile: "/etc/group"}, nil)
	if strict.CheckAutosign("m1", nil) || strict.CheckAutoreject("m1") {
		t.Error("writable files must be ignored without permissive_pki_access")
	}

	permissive := New(fs, pki, Config{AutosignFile: "/etc/world", AutorejectFile: "/etc/group", PermissivePKIAccess: true}, nil)
	if permissive.CheckAutosign("m1", nil) {
		t.Error("world writable files are never trusted")
	}
	if !permissive.CheckAutoreject("m1") {
		t.Error("group writable file should be used when permissive")
	}
}

func TestStub_ConsumedOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join(pki, StubDir, "m1"), "", 0o600)
	p := New(fs, pki, Config{}, nil)

	if !p.CheckAutosign("m1", nil) {
		t.Fatal("stub should sign once")
	}
	if p.CheckAutosign("m1", nil) {
		t.Fatal("stub should be consumed")
	}
}

func TestStub_Expires(t *testing.T) {
	fs := afero.NewMemMapFs()
	stub := filepath.Join(pki, StubDir, "m1")
	writeFile(t, fs, stub, "", 0o600)
	old := time.Now().Add(-3 * time.Hour)
	if err := fs.Chtimes(stub, old, old); err != nil {
		t.Fatal(err)
	}

	clock.Set(clock.NewFake(time.Now()))
	t.Cleanup(clock.Reset)

	p := New(fs, pki, Config{AutosignTimeout: time.Hour}, nil)
	if p.CheckAutosign("m1", nil) {
		t.Fatal("expired stub must not sign")
	}
	if _, err := fs.Stat(stub); !os.IsNotExist(err) {
		t.Fatalf("expired stub should be removed, stat err = %v", err)
	}
}

func TestGrains(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/grains/uuid", "# known\nabc-123\n", 0o600)
	writeFile(t, fs, "/etc/grains/os", "Debian\n", 0o666)
	p := New(fs, pki, Config{AutosignGrainsDir: "/etc/grains"}, nil)

	if !p.CheckAutosign("m1", map[string]string{"uuid": "abc-123"}) {
		t.Error("listed grain value should sign")
	}
	if p.CheckAutosign("m1", map[string]string{"uuid": "zzz"}) {
		t.Error("unlisted grain value must not sign")
	}
	// world writable grain file is ignored
	if p.CheckAutosign("m1", map[string]string{"os": "Debian"}) {
		t.Error("world writable grain file must be ignored")
	}
	if p.CheckAutosign("m1", nil) {
		t.Error("no grains, no signing")
	}
}

func TestExprMatch(t *testing.T) {
	for _, tc := range []struct {
		id, expr string
		want     bool
	}{
		{"web-1", "web-1", true},
		{"web-1", "web-?", true},
		{"web-12", `web-\d+`, true},
		{"xweb-1", "web-.*", false},
		{"web-1", "[invalid", false},
		// braces and backslashes are not glob syntax
		{"y", "{y,z}", false},
		{"web{1,2}", "web{1,2}*", true},
		{"ab", `a\b`, false},
	} {
		if got := ExprMatch(tc.id, tc.expr); got != tc.want {
			t.Errorf("ExprMatch(%q, %q) = %v, want %v", tc.id, tc.expr, got, tc.want)
		}
	}
}
