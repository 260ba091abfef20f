// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keystore persists minion keys in a directory-per-state layout:
//
//	<root>/minions/<id>           accepted
//	<root>/minions_pre/<id>       pending
//	<root>/minions_rejected/<id>  rejected
//	<root>/minions_denied/<id>    denied
//	<root>/<name>.pub             local identity
//	<root>/roles/<id>             optional role label
//
// Every mutation of a single entry is a rename so concurrent readers in
// other processes never observe partial content. There is no lock spanning
// several ids.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/logging"
	"github.com/toeirei/keyward/internal/model"
)

const (
	rolesDir  = "roles"
	tmpPrefix = ".tmp-"

	dirPerm  os.FileMode = 0o700
	filePerm os.FileMode = 0o644
)

// Store is the filesystem-backed key store. The zero value is not usable;
// construct with New or NewOS.
type Store struct {
	fs     afero.Fs
	root   string
	logger *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings about skipped entries.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store rooted at root on the given filesystem.
func New(fsys afero.Fs, root string, opts ...Option) *Store {
	s := &Store{fs: fsys, root: filepath.Clean(root)}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.Or(s.logger)
	return s
}

// NewOS returns a Store on the real filesystem.
func NewOS(root string, opts ...Option) *Store {
	return New(afero.NewOsFs(), root, opts...)
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Fs exposes the underlying filesystem for collaborators that keep
// auxiliary files next to the keys (autosign stubs, generated keys).
func (s *Store) Fs() afero.Fs { return s.fs }

// Init creates the root and every state directory.
func (s *Store) Init() error {
	for _, st := range model.RemoteStates {
		if err := s.fs.MkdirAll(s.stateDir(st), dirPerm); err != nil {
			return &IOError{Op: "init", ID: s.root, State: st, Err: err}
		}
	}
	return nil
}

// ValidID reports whether id can be stored. Ids become file names, so path
// separators, traversal components and hidden names are refused.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

func checkRemote(id string, st model.KeyState) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if st.Dir() == "" {
		return fmt.Errorf("%w: %s", ErrInvalidState, st)
	}
	return nil
}

func (s *Store) stateDir(st model.KeyState) string {
	return filepath.Join(s.root, st.Dir())
}

func (s *Store) path(id string, st model.KeyState) string {
	return filepath.Join(s.stateDir(st), id)
}

// ListKeys returns every remote id grouped by state. Missing state
// directories are empty buckets. Only an unreadable root is an error.
func (s *Store) ListKeys() (model.Listing, error) {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrStoreUnavailable, s.root)
	}

	ret := model.NewListing()
	for _, st := range model.RemoteStates {
		entries, err := afero.ReadDir(s.fs, s.stateDir(st))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: reading %s: %v", ErrStoreUnavailable, st.Dir(), err)
		}
		for _, e := range entries {
			if e.IsDir() || !ValidID(e.Name()) {
				continue
			}
			ret.Add(st, e.Name())
		}
	}
	ret.Sort()
	return ret, nil
}

// LocalKeys returns the names of the local identity files (*.pub, *.pem) in
// the root.
func (s *Store) LocalKeys() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasSuffix(n, ".pub") || strings.HasSuffix(n, ".pem") {
			out = append(out, n)
		}
	}
	model.SortIgnoreCase(out)
	return out, nil
}

// AllKeys merges ListKeys with the local identity files under StateLocal.
func (s *Store) AllKeys() (model.Listing, error) {
	ret, err := s.ListKeys()
	if err != nil {
		return nil, err
	}
	local, err := s.LocalKeys()
	if err != nil {
		return nil, err
	}
	ret[model.StateLocal] = local
	return ret, nil
}

// Read returns the entry for id in state st. It does not search other
// states; ErrNotFound is returned when the id is not there.
func (s *Store) Read(id string, st model.KeyState) (model.KeyEntry, error) {
	if err := checkRemote(id, st); err != nil {
		return model.KeyEntry{}, err
	}
	data, err := afero.ReadFile(s.fs, s.path(id, st))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.KeyEntry{}, ErrNotFound
		}
		return model.KeyEntry{}, &IOError{Op: "read", ID: id, State: st, Err: err}
	}
	role, _ := s.Role(id)
	return model.KeyEntry{ID: id, State: st, PublicKey: string(data), Role: role}, nil
}

// Write creates or replaces id in state st. Content is written to a hidden
// temp file in the target directory and renamed into place.
func (s *Store) Write(id string, st model.KeyState, pub string) error {
	if err := checkRemote(id, st); err != nil {
		return err
	}
	if err := s.atomicWrite(s.stateDir(st), id, []byte(pub), filePerm); err != nil {
		return &IOError{Op: "write", ID: id, State: st, Err: err}
	}
	return nil
}

// Move renames id from one state directory to another. A missing source is
// a no-op reported as moved == false with a nil error.
func (s *Store) Move(id string, from, to model.KeyState) (bool, error) {
	if err := checkRemote(id, from); err != nil {
		return false, err
	}
	if err := checkRemote(id, to); err != nil {
		return false, err
	}
	if from == to {
		_, err := s.fs.Stat(s.path(id, from))
		return false, ignoreNotExist(err, "move", id, from)
	}
	if err := s.fs.MkdirAll(s.stateDir(to), dirPerm); err != nil {
		return false, &IOError{Op: "move", ID: id, State: to, Err: err}
	}
	if err := s.fs.Rename(s.path(id, from), s.path(id, to)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &IOError{Op: "move", ID: id, State: from, Err: err}
	}
	return true, nil
}

// Remove deletes id from state st. Removing an absent id is not an error.
func (s *Store) Remove(id string, st model.KeyState) (bool, error) {
	if err := checkRemote(id, st); err != nil {
		return false, err
	}
	if err := s.fs.Remove(s.path(id, st)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &IOError{Op: "remove", ID: id, State: st, Err: err}
	}
	return true, nil
}

// Locate returns the state currently holding id. When the id is present in
// several buckets (only possible after manual tampering) the first in
// model.RemoteStates order wins and a warning is logged.
func (s *Store) Locate(id string) (model.KeyState, bool, error) {
	if !ValidID(id) {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var found []model.KeyState
	for _, st := range model.RemoteStates {
		_, err := s.fs.Stat(s.path(id, st))
		if err == nil {
			found = append(found, st)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return 0, false, &IOError{Op: "stat", ID: id, State: st, Err: err}
		}
	}
	if len(found) == 0 {
		return 0, false, nil
	}
	if len(found) > 1 {
		s.logger.Warn("minion id present in several states", "id", id, "states", found)
	}
	return found[0], true, nil
}

// LocalRead returns the content of a local identity file.
func (s *Store) LocalRead(name string) (string, error) {
	if !ValidID(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, name)
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", &IOError{Op: "read", ID: name, State: model.StateLocal, Err: err}
	}
	return string(data), nil
}

// LocalWrite atomically writes a local identity file with the given mode.
func (s *Store) LocalWrite(name string, content string, perm os.FileMode) error {
	if !ValidID(name) {
		return fmt.Errorf("%w: %q", ErrInvalidID, name)
	}
	if err := s.fs.MkdirAll(s.root, dirPerm); err != nil {
		return &IOError{Op: "write", ID: name, State: model.StateLocal, Err: err}
	}
	if err := s.atomicWrite(s.root, name, []byte(content), perm); err != nil {
		return &IOError{Op: "write", ID: name, State: model.StateLocal, Err: err}
	}
	return nil
}

// Role returns the role label recorded for id, or "" when none is set.
func (s *Store) Role(id string) (string, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, rolesDir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", &IOError{Op: "read-role", ID: id, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

// SetRole records the role label for id. An empty role clears it.
func (s *Store) SetRole(id, role string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if role == "" {
		return s.ClearRole(id)
	}
	if err := s.atomicWrite(filepath.Join(s.root, rolesDir), id, []byte(role+"\n"), filePerm); err != nil {
		return &IOError{Op: "write-role", ID: id, Err: err}
	}
	return nil
}

// ClearRole drops the role label for id. Missing labels are ignored.
func (s *Store) ClearRole(id string) error {
	err := s.fs.Remove(filepath.Join(s.root, rolesDir, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "clear-role", ID: id, Err: err}
	}
	return nil
}

// atomicWrite writes data to dir/name via a temp file in dir and a rename.
func (s *Store) atomicWrite(dir, name string, data []byte, perm os.FileMode) error {
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := afero.TempFile(s.fs, dir, tmpPrefix+name+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.fs.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := s.fs.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return err
	}
	success = true
	return nil
}

func ignoreNotExist(err error, op, id string, st model.KeyState) error {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &IOError{Op: op, ID: id, State: st, Err: err}
}
