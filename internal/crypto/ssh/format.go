// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ssh generates the ed25519 key pairs used for the master identity
// and for pre-seeded minions.
package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair holds a generated key pair in its on-disk forms.
type KeyPair struct {
	// Public is an authorized_keys line, newline terminated.
	Public string
	// Private is an OpenSSH PEM block.
	Private string
}

// Reader is the entropy source used by Generate. Tests may replace it.
var Reader io.Reader = rand.Reader

// Generate creates a new ed25519 key pair. A non-empty passphrase encrypts
// the private half.
func Generate(comment, passphrase string) (KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		line += " " + comment
	}

	block, err := MarshalEd25519PrivateKey(privKey, comment, passphrase)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: line + "\n", Private: string(pem.EncodeToMemory(block))}, nil
}

// MarshalEd25519PrivateKey converts an ed25519 private key to an OpenSSH
// PEM block, encrypted when passphrase is set.
func MarshalEd25519PrivateKey(key ed25519.PrivateKey, comment, passphrase string) (*pem.Block, error) {
	var (
		block *pem.Block
		err   error
	)
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(key, comment)
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, comment, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ed25519 private key: %w", err)
	}
	return block, nil
}

// FingerprintSHA256 returns the OpenSSH style SHA256 fingerprint of an
// authorized_keys line.
func FingerprintSHA256(authorizedKey string) (string, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorizedKey))
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(pk), nil
}
