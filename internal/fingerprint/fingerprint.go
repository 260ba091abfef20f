// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package fingerprint renders stored key material and computes the
// colon-delimited digests operators compare out of band.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// DefaultHash is used when no hash type is configured.
const DefaultHash = "sha256"

// InvalidMarker replaces the digest of an entry whose content could not be
// read at all.
const InvalidMarker = "<invalid>"

var (
	// ErrUnsupportedHash is returned for hash type names outside Hashes.
	ErrUnsupportedHash = errors.New("unsupported hash type")
	// ErrInvalidKeyMaterial marks key content that does not parse as a
	// public key.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
)

var hashes = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha224":   sha256.New224,
	"sha256":   sha256.New,
	"sha384":   sha512.New384,
	"sha512":   sha512.New,
	"sha3_256": sha3.New256,
	"sha3_512": sha3.New512,
	"blake3":   func() hash.Hash { return blake3.New() },
}

// Hashes returns the supported hash type names, sorted.
func Hashes() []string {
	out := make([]string, 0, len(hashes))
	for k := range hashes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewHash resolves a hash type name. The empty name selects DefaultHash.
func NewHash(hashType string) (hash.Hash, error) {
	name := strings.ToLower(strings.TrimSpace(hashType))
	if name == "" {
		name = DefaultHash
	}
	ctor, ok := hashes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, hashType)
	}
	return ctor(), nil
}

// Body returns the bytes that are hashed for a key. For armored PEM content
// the first and last non-blank lines are dropped and the remaining lines are
// kept with their line endings. Anything else is hashed trimmed and whole.
func Body(material []byte) []byte {
	var lines [][]byte
	for _, l := range bytes.SplitAfter(material, []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, l)
		}
	}
	if len(lines) >= 3 && bytes.HasPrefix(bytes.TrimSpace(lines[0]), []byte("-----")) {
		return bytes.Join(lines[1:len(lines)-1], nil)
	}
	return bytes.TrimSpace(material)
}

// Digest hashes the key body and renders the hex digest in colon separated
// pairs ("ab:cd:...").
func Digest(material []byte, hashType string) (string, error) {
	h, err := NewHash(hashType)
	if err != nil {
		return "", err
	}
	h.Write(Body(material))
	return Colonize(hex.EncodeToString(h.Sum(nil))), nil
}

// Colonize inserts a colon after every second character.
func Colonize(hexdigest string) string {
	var b strings.Builder
	for i := 0; i < len(hexdigest); i++ {
		if i > 0 && i%2 == 0 {
			b.WriteByte(':')
		}
		b.WriteByte(hexdigest[i])
	}
	return b.String()
}
