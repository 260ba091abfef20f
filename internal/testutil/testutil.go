// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds test doubles shared across packages: a
// failure-injecting filesystem and deterministic key material.
package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"golang.org/x/crypto/ssh"
)

func seededKey(seed byte) ed25519.PublicKey {
	s := bytes.Repeat([]byte{seed}, ed25519.SeedSize)
	return ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey)
}

// SSHPublicKey returns a deterministic OpenSSH authorized-key line. Equal
// seeds yield equal keys.
func SSHPublicKey(seed byte) string {
	pk, err := ssh.NewPublicKey(seededKey(seed))
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pk))) + "\n"
}

// PEMPublicKey returns a deterministic PEM "PUBLIC KEY" block.
func PEMPublicKey(seed byte) string {
	der, err := x509.MarshalPKIXPublicKey(seededKey(seed))
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}
