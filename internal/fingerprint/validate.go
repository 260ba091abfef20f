// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package fingerprint

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Validate checks that pub holds a single public key, either as a PEM
// "PUBLIC KEY" / "RSA PUBLIC KEY" block or as an OpenSSH authorized-key line.
func Validate(pub string) error {
	trimmed := strings.TrimSpace(pub)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKeyMaterial)
	}

	if strings.HasPrefix(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return fmt.Errorf("%w: malformed PEM", ErrInvalidKeyMaterial)
		}
		var err error
		switch block.Type {
		case "PUBLIC KEY":
			_, err = x509.ParsePKIXPublicKey(block.Bytes)
		case "RSA PUBLIC KEY":
			_, err = x509.ParsePKCS1PublicKey(block.Bytes)
		default:
			return fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKeyMaterial, block.Type)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		return nil
	}

	if _, _, _, rest, err := ssh.ParseAuthorizedKey([]byte(trimmed)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	} else if len(strings.TrimSpace(string(rest))) > 0 {
		return fmt.Errorf("%w: more than one key", ErrInvalidKeyMaterial)
	}
	return nil
}

// Equal compares two key texts ignoring surrounding whitespace and line
// ending differences.
func Equal(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	}
	return norm(a) == norm(b)
}
