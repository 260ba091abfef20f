// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package fingerprint_test

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
	"github.com/toeirei/keyward/internal/testutil"
)

func TestColonize(t *testing.T) {
	if got := fingerprint.Colonize("abcdef"); got != "ab:cd:ef" {
		t.Errorf("Colonize = %q", got)
	}
	if got := fingerprint.Colonize(""); got != "" {
		t.Errorf("Colonize of empty = %q", got)
	}
}

func TestBody_StripsArmor(t *testing.T) {
	pem := "-----BEGIN PUBLIC KEY-----\nAAAA\nBBBB\n\n-----END PUBLIC KEY-----\n"
	if got := string(fingerprint.Body([]byte(pem))); got != "AAAA\nBBBB\n" {
		t.Errorf("Body(pem) = %q", got)
	}
	if got := string(fingerprint.Body([]byte("  ssh-ed25519 AAAA x\n"))); got != "ssh-ed25519 AAAA x" {
		t.Errorf("Body(ssh) = %q", got)
	}
}

func TestDigest_MatchesHashOfBody(t *testing.T) {
	pem := testutil.PEMPublicKey(3)
	sum := md5.Sum(fingerprint.Body([]byte(pem)))
	got, err := fingerprint.Digest([]byte(pem), "md5")
	if err != nil {
		t.Fatal(err)
	}
	if want := fingerprint.Colonize(hex.EncodeToString(sum[:])); got != want {
		t.Errorf("Digest = %q, want %q", got, want)
	}
}

func TestDigest_Lengths(t *testing.T) {
	want := map[string]int{
		"md5": 32, "sha1": 40, "sha224": 56, "sha256": 64, "sha384": 96,
		"sha512": 128, "sha3_256": 64, "sha3_512": 128, "blake3": 64,
	}
	for name, n := range want {
		d, err := fingerprint.Digest([]byte("key"), name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got := len(strings.ReplaceAll(d, ":", "")); got != n {
			t.Errorf("%s: %d hex digits, want %d", name, got, n)
		}
	}
	names := fingerprint.Hashes()
	slices.Sort(names)
	expected := []string{"blake3", "md5", "sha1", "sha224", "sha256", "sha384", "sha3_256", "sha3_512", "sha512"}
	if !slices.Equal(names, expected) {
		t.Errorf("Hashes = %v", names)
	}
}

func TestDigest_Unsupported(t *testing.T) {
	if _, err := fingerprint.Digest([]byte("key"), "crc32"); !errors.Is(err, fingerprint.ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := fingerprint.Validate(testutil.PEMPublicKey(1)); err != nil {
		t.Errorf("PEM key: %v", err)
	}
	if err := fingerprint.Validate(testutil.SSHPublicKey(1)); err != nil {
		t.Errorf("ssh key: %v", err)
	}

	for _, bad := range []string{
		"",
		"not a key",
		"-----BEGIN PUBLIC KEY-----\nZm9v\n-----END PUBLIC KEY-----\n",
		"-----BEGIN CERTIFICATE-----\nZm9v\n-----END CERTIFICATE-----\n",
		testutil.SSHPublicKey(1) + testutil.SSHPublicKey(2),
	} {
		if err := fingerprint.Validate(bad); !errors.Is(err, fingerprint.ErrInvalidKeyMaterial) {
			t.Errorf("Validate(%q) = %v", bad, err)
		}
	}
}

func TestEqual(t *testing.T) {
	if !fingerprint.Equal("a\r\nb\n", "a\nb") {
		t.Error("line endings and trailing newline should not matter")
	}
	if fingerprint.Equal("a", "b") {
		t.Error("different material compared equal")
	}
}

func newInspector(t *testing.T) (*fingerprint.Inspector, *keystore.Store, *testutil.FailingFs) {
	t.Helper()
	ffs := testutil.NewFailingFs(afero.NewMemMapFs())
	s := keystore.New(ffs, "/pki")
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return fingerprint.NewInspector(s, nil), s, ffs
}

func mustWrite(t *testing.T, s *keystore.Store, id string, st model.KeyState, pub string) {
	t.Helper()
	if err := s.Write(id, st, pub); err != nil {
		t.Fatal(err)
	}
}

func TestFinger_StableAndHashDependent(t *testing.T) {
	in, s, _ := newInspector(t)
	mustWrite(t, s, "web-1", model.StateAccepted, testutil.PEMPublicKey(9))

	a, err := in.Finger(match.GlobSpec{"web-1"}, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	b, err := in.Finger(match.GlobSpec{"web-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("default hash should be sha256: %v vs %v", a, b)
	}

	m, err := in.Finger(match.GlobSpec{"web-1"}, "md5")
	if err != nil {
		t.Fatal(err)
	}
	sha := a[model.StateAccepted]["web-1"]
	md := m[model.StateAccepted]["web-1"]
	if len(strings.ReplaceAll(sha, ":", "")) != 64 || len(strings.ReplaceAll(md, ":", "")) != 32 {
		t.Fatalf("unexpected digest lengths %q %q", sha, md)
	}

	if _, err := in.Finger(match.GlobSpec{"web-1"}, "nope"); !errors.Is(err, fingerprint.ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestFinger_DegradesPerEntry(t *testing.T) {
	in, s, ffs := newInspector(t)
	mustWrite(t, s, "good", model.StatePending, testutil.SSHPublicKey(1))
	mustWrite(t, s, "garbage", model.StatePending, "%%% not a key")
	mustWrite(t, s, "broken", model.StatePending, testutil.SSHPublicKey(2))
	ffs.FailOn(testutil.OpOpen, "minions_pre/broken", nil)

	got, err := in.Finger(match.GlobSpec{"*"}, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	pend := got[model.StatePending]
	if len(pend) != 3 {
		t.Fatalf("expected 3 entries, got %v", pend)
	}
	if pend["broken"] != fingerprint.InvalidMarker {
		t.Errorf("unreadable key = %q", pend["broken"])
	}
	want, _ := fingerprint.Digest([]byte("%%% not a key"), "sha256")
	if pend["garbage"] != want {
		t.Errorf("invalid material still gets a digest, got %q", pend["garbage"])
	}
	if pend["good"] == fingerprint.InvalidMarker {
		t.Error("good key marked invalid")
	}
}

func TestFingerAllAndKeyString(t *testing.T) {
	in, s, _ := newInspector(t)
	if err := s.LocalWrite("master.pub", testutil.PEMPublicKey(4), 0o644); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, s, "db-1", model.StateRejected, testutil.SSHPublicKey(5))

	all, err := in.FingerAll("sha1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all[model.StateLocal]["master.pub"]; !ok {
		t.Errorf("FingerAll misses master.pub: %v", all)
	}
	if _, ok := all[model.StateRejected]["db-1"]; !ok {
		t.Errorf("FingerAll misses db-1: %v", all)
	}

	local, err := in.Finger(match.FullGlobSpec{"master*"}, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := local[model.StateLocal]["master.pub"]; !ok {
		t.Errorf("full glob misses master.pub: %v", local)
	}

	ks, err := in.KeyString(match.ExactSpec{"db-1"})
	if err != nil {
		t.Fatal(err)
	}
	if ks[model.StateRejected]["db-1"] != testutil.SSHPublicKey(5) {
		t.Errorf("KeyString = %v", ks)
	}
}
