// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is the default error returned by FailingFs rules.
var ErrInjected = errors.New("injected failure")

// Op names a filesystem operation FailingFs can fail.
type Op string

const (
	OpRename   Op = "rename"
	OpRemove   Op = "remove"
	OpOpenFile Op = "openfile"
	OpOpen     Op = "open"
	OpStat     Op = "stat"
)

type rule struct {
	op     Op
	substr string
	err    error
}

// FailingFs wraps an afero.Fs and fails selected operations whose path
// contains a substring. Running tests as root makes permission based
// failures unreliable, so this is how I/O errors are simulated.
type FailingFs struct {
	afero.Fs

	mu    sync.Mutex
	rules []rule
}

// NewFailingFs wraps base.
func NewFailingFs(base afero.Fs) *FailingFs {
	return &FailingFs{Fs: base}
}

// FailOn makes op fail with err (ErrInjected when nil) for every path
// containing substr.
func (f *FailingFs) FailOn(op Op, substr string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{op: op, substr: substr, err: err})
}

// Reset drops every rule.
func (f *FailingFs) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

func (f *FailingFs) check(op Op, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.op != op {
			continue
		}
		for _, p := range paths {
			if strings.Contains(p, r.substr) {
				return &os.PathError{Op: string(op), Path: p, Err: r.err}
			}
		}
	}
	return nil
}

func (f *FailingFs) Rename(oldname, newname string) error {
	if err := f.check(OpRename, oldname, newname); err != nil {
		return err
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FailingFs) Remove(name string) error {
	if err := f.check(OpRemove, name); err != nil {
		return err
	}
	return f.Fs.Remove(name)
}

func (f *FailingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if err := f.check(OpOpenFile, name); err != nil {
		return nil, err
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *FailingFs) Open(name string) (afero.File, error) {
	if err := f.check(OpOpen, name); err != nil {
		return nil, err
	}
	return f.Fs.Open(name)
}

func (f *FailingFs) Stat(name string) (os.FileInfo, error) {
	if err := f.check(OpStat, name); err != nil {
		return nil, err
	}
	return f.Fs.Stat(name)
}
