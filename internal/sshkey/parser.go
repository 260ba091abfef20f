// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey splits authorized-key lines into their parts without
// decoding the key blob.
package sshkey

import (
	"fmt"
	"strings"
)

// PEMAlgorithm is reported by Algorithm for armored key material.
const PEMAlgorithm = "pem"

// Parse splits a raw public key string (like one from an authorized_keys file)
// into its three core components: algorithm, key data, and comment.
// Leading options (from="...",command="...") are skipped.
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if isKeyType(field) {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

// Algorithm names the key type of material: the authorized-key algorithm,
// PEMAlgorithm for armored content, or "unknown".
func Algorithm(material string) string {
	if strings.HasPrefix(strings.TrimSpace(material), "-----BEGIN") {
		return PEMAlgorithm
	}
	algo, _, _, err := Parse(material)
	if err != nil {
		return "unknown"
	}
	return algo
}

func isKeyType(field string) bool {
	for _, p := range []string{"ssh-", "ecdsa-", "sk-"} {
		if strings.HasPrefix(field, p) {
			return true
		}
	}
	return false
}
