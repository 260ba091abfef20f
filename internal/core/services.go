// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core wires the key store, the transition engine and the event
// sinks from a configuration, and offers the higher level operations shared
// by the command line, the wheel dispatcher and the review UI.
package core

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/toeirei/keyward/internal/autokey"
	"github.com/toeirei/keyward/internal/config"
	"github.com/toeirei/keyward/internal/db"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/events"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/keystore"
	"github.com/toeirei/keyward/internal/logging"
)

// Services is the set of components built from one configuration.
type Services struct {
	Config    config.Config
	Store     *keystore.Store
	Engine    *engine.Engine
	Policy    *autokey.Policy
	Inspector *fingerprint.Inspector
	// Bus receives every engine event in process. The review screen
	// subscribes to it; embedders can too.
	Bus *events.Bus
	// Audit is nil unless audit.enabled is set.
	Audit *db.AuditStore

	logger *log.Logger
}

type options struct {
	fs         afero.Fs
	logger     *log.Logger
	publishers []events.Publisher
}

// Option customises InitializeServices.
type Option func(*options)

// WithFs replaces the OS filesystem, mostly for tests.
func WithFs(fsys afero.Fs) Option { return func(o *options) { o.fs = fsys } }

// WithLogger sets the logger handed to every component.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// WithPublisher adds an event sink next to the configured ones.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p) }
}

// InitializeServices builds every component described by cfg. The caller
// owns the result and must Close it.
func InitializeServices(cfg config.Config, opts ...Option) (*Services, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Or(o.logger)

	if cfg.PKIDir == "" {
		return nil, fmt.Errorf("pki_dir is not configured")
	}
	if _, err := fingerprint.NewHash(cfg.HashType); err != nil {
		return nil, err
	}

	s := &Services{Config: cfg, logger: logger, Bus: events.NewBus()}
	s.Store = keystore.New(o.fs, cfg.PKIDir, keystore.WithLogger(logger))
	s.Policy = autokey.New(o.fs, cfg.PKIDir, autokey.Config{
		AutoAccept:          cfg.AutoAccept,
		AutosignFile:        cfg.AutosignFile,
		AutorejectFile:      cfg.AutorejectFile,
		AutosignTimeout:     time.Duration(cfg.AutosignTimeout) * time.Minute,
		AutosignGrainsDir:   cfg.AutosignGrainsDir,
		PermissivePKIAccess: cfg.PermissivePKIAccess,
	}, logger)

	sinks := events.Multi{s.Bus}
	if cfg.Event.Socket != "" {
		sinks = append(sinks, events.NewSocketPublisher(cfg.Event.Socket, cfg.Event.Timeout))
	}
	if cfg.Audit.Enabled {
		audit, err := db.Open(cfg.Audit.Type, cfg.Audit.Dsn)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		s.Audit = audit
		sinks = append(sinks, audit)
	}
	sinks = append(sinks, o.publishers...)

	s.Engine = engine.New(s.Store,
		engine.WithPublisher(sinks),
		engine.WithPolicy(s.Policy),
		engine.WithLogger(logger),
		engine.WithValidation(cfg.ValidateKeys),
		engine.WithOpenMode(cfg.OpenMode),
	)
	s.Inspector = fingerprint.NewInspector(s.Store, logger)
	logger.Debug("services initialized", "pki_dir", cfg.PKIDir, "audit", cfg.Audit.Enabled, "socket", cfg.Event.Socket)
	return s, nil
}

// HashType returns the configured hash type, or the default.
func (s *Services) HashType() string {
	if s.Config.HashType == "" {
		return fingerprint.DefaultHash
	}
	return s.Config.HashType
}

// Close releases the audit store, if any.
func (s *Services) Close() error {
	if s.Audit != nil {
		return s.Audit.Close()
	}
	return nil
}
