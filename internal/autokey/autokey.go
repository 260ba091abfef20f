// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package autokey decides whether a registering minion is signed or
// rejected without operator action.
//
// Sources, in order of precedence for autosign: auto_accept, the autosign
// file (one glob or regular expression per line, '#' comments), a one-shot
// stub file in <pki_dir>/minions_autosign/<id>, and grain files in
// autosign_grains_dir whose lines list accepted values for the grain named
// by the file.
package autokey

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/clock"
	"github.com/toeirei/keyward/internal/logging"
	"github.com/toeirei/keyward/internal/match"
)

// StubDir is the directory below pki_dir holding one-shot autosign stubs.
const StubDir = "minions_autosign"

// DefaultTimeout is the lifetime of an autosign stub.
const DefaultTimeout = 120 * time.Minute

// Config carries the auto-key settings.
type Config struct {
	AutoAccept          bool
	AutosignFile        string
	AutorejectFile      string
	AutosignTimeout     time.Duration
	AutosignGrainsDir   string
	PermissivePKIAccess bool
}

type signingFile struct {
	mtime time.Time
	lines []string
}

// Policy evaluates Config against the filesystem. It caches parsed signing
// files by modification time and is safe for concurrent use.
type Policy struct {
	fs     afero.Fs
	pkiDir string
	cfg    Config
	logger *log.Logger

	mu    sync.Mutex
	files map[string]signingFile
}

// New returns a Policy. A nil logger selects the package logger.
func New(fsys afero.Fs, pkiDir string, cfg Config, logger *log.Logger) *Policy {
	return &Policy{
		fs:     fsys,
		pkiDir: pkiDir,
		cfg:    cfg,
		logger: logging.Or(logger),
		files:  map[string]signingFile{},
	}
}

// CheckAutoreject reports whether id is listed in the autoreject file.
// auto_accept disables autoreject entirely.
func (p *Policy) CheckAutoreject(id string) bool {
	if p.cfg.AutoAccept {
		return false
	}
	return p.checkSigningFile(id, p.cfg.AutorejectFile)
}

// CheckAutosign reports whether id may be accepted automatically. A
// matching stub file is consumed.
func (p *Policy) CheckAutosign(id string, grains map[string]string) bool {
	if p.cfg.AutoAccept {
		return true
	}
	if p.checkSigningFile(id, p.cfg.AutosignFile) {
		return true
	}
	if p.checkStub(id) {
		return true
	}
	return p.checkGrains(grains)
}

// permitted refuses files writable by others, and by the group unless
// permissive_pki_access is set.
func (p *Policy) permitted(info os.FileInfo) bool {
	mode := info.Mode().Perm()
	if mode&0o002 != 0 {
		return false
	}
	if mode&0o020 != 0 {
		return p.cfg.PermissivePKIAccess
	}
	return true
}

func (p *Policy) checkSigningFile(id, path string) bool {
	if path == "" {
		return false
	}
	info, err := p.fs.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("unable to stat signing file", "file", path, "err", err)
		}
		return false
	}
	if !p.permitted(info) {
		p.logger.Warn("wrong permissions, ignoring content", "file", path, "mode", info.Mode().Perm())
		return false
	}

	p.mu.Lock()
	cached, ok := p.files[path]
	if !ok || !cached.mtime.Equal(info.ModTime()) {
		lines, err := p.readLines(path)
		if err != nil {
			p.mu.Unlock()
			p.logger.Warn("unable to read signing file", "file", path, "err", err)
			return false
		}
		cached = signingFile{mtime: info.ModTime(), lines: lines}
		p.files[path] = cached
	}
	p.mu.Unlock()

	for _, expr := range cached.lines {
		if ExprMatch(id, expr) {
			return true
		}
	}
	return false
}

func (p *Policy) readLines(path string) ([]string, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// checkStub expires old stubs, then consumes the stub for id if present.
func (p *Policy) checkStub(id string) bool {
	dir := filepath.Join(p.pkiDir, StubDir)
	timeout := p.cfg.AutosignTimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		cutoff := clock.Now().Add(-timeout)
		entries, err := afero.ReadDir(p.fs, dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("unable to read autosign stubs", "dir", dir, "err", err)
		}
		for _, e := range entries {
			if e.IsDir() || !e.ModTime().Before(cutoff) {
				continue
			}
			p.logger.Warn("autosign stub expired", "file", e.Name())
			_ = p.fs.Remove(filepath.Join(dir, e.Name()))
		}
	}

	if id == "" || strings.ContainsAny(id, "/\\") {
		return false
	}
	if err := p.fs.Remove(filepath.Join(dir, id)); err != nil {
		return false
	}
	return true
}

func (p *Policy) checkGrains(grains map[string]string) bool {
	if len(grains) == 0 || p.cfg.AutosignGrainsDir == "" {
		return false
	}
	entries, err := afero.ReadDir(p.fs, p.cfg.AutosignGrainsDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("unable to read autosign grains dir", "dir", p.cfg.AutosignGrainsDir, "err", err)
		}
		return false
	}
	for _, e := range entries {
		value, ok := grains[e.Name()]
		if e.IsDir() || !ok {
			continue
		}
		if !p.permitted(e) {
			p.logger.Warn("wrong permissions, ignoring content", "file", e.Name(), "mode", e.Mode().Perm())
			continue
		}
		lines, err := p.readLines(filepath.Join(p.cfg.AutosignGrainsDir, e.Name()))
		if err != nil {
			p.logger.Warn("unable to read grain file", "file", e.Name(), "err", err)
			continue
		}
		for _, l := range lines {
			if l == value {
				return true
			}
		}
	}
	return false
}

// ExprMatch matches id against an autosign expression: literal equality,
// then a shell glob (braces and backslashes are literal), then a regular
// expression anchored at the start.
func ExprMatch(id, expr string) bool {
	if id == expr {
		return true
	}
	if g, err := match.CompileGlob(expr); err == nil && g.Match(id) {
		return true
	}
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return false
	}
	return re.MatchString(id)
}
