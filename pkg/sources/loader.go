// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sources

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/pkg/federation"
)

// KeyringService is the OS keyring service name DSN secrets are stored under.
const KeyringService = "sqgate"

// Registrar is the part of the federator the loader drives.
type Registrar interface {
	Register(src federation.Source)
	Unregister(id string) bool
}

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(key string) (string, error)
}

// KeyringSecrets reads secrets from the OS keyring.
type KeyringSecrets struct {
	Service string
}

// Get returns the secret stored under key.
func (k KeyringSecrets) Get(key string) (string, error) {
	service := k.Service
	if service == "" {
		service = KeyringService
	}
	return keyring.Get(service, key)
}

// SourceOpener builds a source from its definition.
type SourceOpener func(ctx context.Context, def Definition, dsn string) (federation.Source, error)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Path      string
	Registrar Registrar
	Secrets   SecretStore
	Logger    *zap.Logger

	// Open overrides how sources are built. Defaults to memory and SQL sources.
	Open SourceOpener
}

type loaded struct {
	source      federation.Source
	fingerprint string
}

// Loader keeps the registrar's sources in step with the sources file.
type Loader struct {
	path      string
	registrar Registrar
	secrets   SecretStore
	logger    *zap.Logger
	open      SourceOpener

	mu       sync.Mutex
	fileHash string
	active   map[string]loaded
}

// NewLoader creates a loader. Nothing is read until Sync.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sources file path is required")
	}
	if cfg.Registrar == nil {
		return nil, fmt.Errorf("registrar is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Secrets == nil {
		cfg.Secrets = KeyringSecrets{}
	}

	l := &Loader{
		path:      cfg.Path,
		registrar: cfg.Registrar,
		secrets:   cfg.Secrets,
		logger:    cfg.Logger,
		open:      cfg.Open,
		active:    make(map[string]loaded),
	}
	if l.open == nil {
		l.open = l.openDefault
	}
	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Sync reloads the file when its contents changed: new and modified sources are
// (re)registered, sources no longer listed are unregistered and closed. Returns whether
// anything was reloaded. A source that fails to open is logged and left out; the rest of
// the file still applies.
func (l *Loader) Sync(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, hash, err := Load(l.path)
	if err != nil {
		return false, err
	}
	if hash == l.fileHash {
		return false, nil
	}

	l.logger.Info("Loading sources file", zap.String("path", l.path), zap.Int("sources", len(file.Sources)))

	seen := make(map[string]bool, len(file.Sources))
	for _, def := range file.Sources {
		seen[def.ID] = true
		fp := def.fingerprint()
		if current, ok := l.active[def.ID]; ok && current.fingerprint == fp {
			continue
		}

		dsn, err := l.resolveDSN(def)
		if err != nil {
			l.logger.Error("Failed to resolve source DSN", zap.String("source", def.ID), zap.Error(err))
			continue
		}
		src, err := l.open(ctx, def, dsn)
		if err != nil {
			l.logger.Error("Failed to open source", zap.String("source", def.ID), zap.Error(err))
			continue
		}

		if previous, ok := l.active[def.ID]; ok {
			l.closeSource(previous.source)
		}
		l.registrar.Register(src)
		l.active[def.ID] = loaded{source: src, fingerprint: fp}
	}

	for id, current := range l.active {
		if seen[id] {
			continue
		}
		l.logger.Info("Source removed from file", zap.String("source", id))
		l.registrar.Unregister(id)
		l.closeSource(current.source)
		delete(l.active, id)
	}

	l.fileHash = hash
	return true, nil
}

// Close unregisters and closes every loaded source.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, current := range l.active {
		l.registrar.Unregister(id)
		l.closeSource(current.source)
	}
	clear(l.active)
	l.fileHash = ""
}

func (l *Loader) resolveDSN(def Definition) (string, error) {
	if def.DSN != "" || def.DSNSecret == "" {
		return def.DSN, nil
	}
	dsn, err := l.secrets.Get(def.DSNSecret)
	if err != nil {
		return "", fmt.Errorf("failed to read secret %q: %w", def.DSNSecret, err)
	}
	return dsn, nil
}

func (l *Loader) openDefault(ctx context.Context, def Definition, dsn string) (federation.Source, error) {
	switch def.Type {
	case TypeMemory:
		src := federation.NewMemorySource(def.ID)
		for _, fixture := range def.Records {
			src.Put(fixture.Result())
		}
		return src, nil
	case TypeSQL:
		return federation.OpenSQLSource(ctx, federation.SQLConfig{
			ID:     def.ID,
			Driver: def.Driver,
			DSN:    dsn,
			Table:  def.Table,
			Logger: l.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported source type %q", def.Type)
	}
}

func (l *Loader) closeSource(src federation.Source) {
	closer, ok := src.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		l.logger.Warn("Failed to close source", zap.String("source", src.ID()), zap.Error(err))
	}
}
