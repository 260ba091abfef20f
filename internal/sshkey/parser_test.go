// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		algo    string
		data    string
		comment string
		wantErr bool
	}{
		{name: "plain", line: "ssh-ed25519 AAAAC3Nz web-1", algo: "ssh-ed25519", data: "AAAAC3Nz", comment: "web-1"},
		{name: "no comment", line: "ecdsa-sha2-nistp256 AAAAE2Vj", algo: "ecdsa-sha2-nistp256", data: "AAAAE2Vj"},
		{name: "options", line: `from="10.0.0.1",no-pty ssh-rsa AAAAB3Nz root@host one`, algo: "ssh-rsa", data: "AAAAB3Nz", comment: "root@host one"},
		{name: "security key", line: "sk-ssh-ed25519@openssh.com AAAAGnNr", algo: "sk-ssh-ed25519@openssh.com", data: "AAAAGnNr"},
		{name: "empty", line: "  ", wantErr: true},
		{name: "no type", line: "foo bar", wantErr: true},
		{name: "no data", line: "ssh-ed25519", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			algo, data, comment, err := Parse(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if algo != tc.algo || data != tc.data || comment != tc.comment {
				t.Errorf("got (%q, %q, %q)", algo, data, comment)
			}
		})
	}
}

func TestAlgorithm(t *testing.T) {
	if got := Algorithm("ssh-ed25519 AAAA m1\n"); got != "ssh-ed25519" {
		t.Errorf("got %q", got)
	}
	if got := Algorithm("-----BEGIN PUBLIC KEY-----\nMCow\n-----END PUBLIC KEY-----\n"); got != PEMAlgorithm {
		t.Errorf("got %q", got)
	}
	if got := Algorithm("junk"); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
