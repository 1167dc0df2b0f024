// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	_ "github.com/teradata-labs/sqgate/internal/sqlitedriver"
	"github.com/teradata-labs/sqgate/pkg/federation"
)

// recordingRegistrar tracks registered sources.
type recordingRegistrar struct {
	mu      sync.Mutex
	sources map[string]federation.Source
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{sources: make(map[string]federation.Source)}
}

func (r *recordingRegistrar) Register(src federation.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.ID()] = src
}

func (r *recordingRegistrar) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sources[id]
	delete(r.sources, id)
	return ok
}

func (r *recordingRegistrar) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *recordingRegistrar) Get(id string) federation.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[id]
}

type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

const memoryDoc = `
sources:
  - id: local
    type: memory
    records:
      - id: r1
        title: Harbor survey
        modified: 2026-01-01T00:00:00Z
        attributes:
          sensor: EO
      - id: r2
        title: Airfield
        modified: 2026-01-02T00:00:00Z
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParse(t *testing.T) {
	file, err := Parse([]byte(memoryDoc))
	require.NoError(t, err)
	require.Len(t, file.Sources, 1)

	def := file.Sources[0]
	assert.Equal(t, "local", def.ID)
	assert.Equal(t, TypeMemory, def.Type)
	require.Len(t, def.Records, 2)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), def.Records[0].Modified)
	assert.Equal(t, "EO", def.Records[0].Attributes["sensor"])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing sources", doc: "other: 1\n"},
		{name: "unknown type", doc: "sources:\n  - id: a\n    type: ftp\n"},
		{name: "missing id", doc: "sources:\n  - type: memory\n"},
		{name: "bad driver", doc: "sources:\n  - id: a\n    type: sql\n    driver: oracle\n"},
		{name: "sql without driver", doc: "sources:\n  - id: a\n    type: sql\n"},
		{name: "duplicate id", doc: "sources:\n  - id: a\n    type: memory\n  - id: a\n    type: memory\n"},
		{name: "bad table", doc: "sources:\n  - id: a\n    type: sql\n    driver: mysql\n    table: \"x; drop\"\n"},
		{name: "malformed yaml", doc: "sources: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoader_Sync(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeFile(t, path, memoryDoc)

	reg := newRecordingRegistrar()
	loader, err := NewLoader(LoaderConfig{Path: path, Registrar: reg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	changed, err := loader.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"local"}, reg.IDs())

	resp, err := reg.Get("local").Query(ctx, federation.Request{Query: federation.Query{Expression: "harbor"}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Hits)

	// Unchanged contents are a no-op
	changed, err = loader.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// Replace the file: local removed, extra added
	writeFile(t, path, "sources:\n  - id: extra\n    type: memory\n")
	changed, err = loader.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"extra"}, reg.IDs())

	loader.Close()
	assert.Empty(t, reg.IDs())
}

func TestLoader_SyncKeepsPreviousOnInvalidFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeFile(t, path, memoryDoc)

	reg := newRecordingRegistrar()
	loader, err := NewLoader(LoaderConfig{Path: path, Registrar: reg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	_, err = loader.Sync(ctx)
	require.NoError(t, err)

	writeFile(t, path, "sources:\n  - id: broken\n    type: nope\n")
	_, err = loader.Sync(ctx)
	assert.Error(t, err)
	assert.Equal(t, []string{"local"}, reg.IDs())
}

func TestLoader_SQLSourceWithKeyringSecret(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	dbPath := filepath.Join(dir, "catalog.db")

	writeFile(t, path, `
sources:
  - id: catalog
    type: sql
    driver: sqlite3
    dsn_secret: catalog-dsn
`)

	reg := newRecordingRegistrar()
	loader, err := NewLoader(LoaderConfig{
		Path:      path,
		Registrar: reg,
		Secrets:   mapSecrets{"catalog-dsn": dbPath},
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(loader.Close)

	_, err = loader.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"catalog"}, reg.IDs())

	sqlSrc, ok := reg.Get("catalog").(*federation.SQLSource)
	require.True(t, ok)
	require.NoError(t, sqlSrc.EnsureSchema(ctx))
}

func TestLoader_MissingSecretSkipsSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeFile(t, path, `
sources:
  - id: catalog
    type: sql
    driver: postgres
    dsn_secret: missing
  - id: local
    type: memory
`)

	reg := newRecordingRegistrar()
	loader, err := NewLoader(LoaderConfig{Path: path, Registrar: reg, Secrets: mapSecrets{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	changed, err := loader.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"local"}, reg.IDs())
}

func TestNewLoader_Validation(t *testing.T) {
	_, err := NewLoader(LoaderConfig{Registrar: newRecordingRegistrar()})
	assert.Error(t, err)

	_, err = NewLoader(LoaderConfig{Path: "sources.yaml"})
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	writeFile(t, path, memoryDoc)

	reg := newRecordingRegistrar()
	loader, err := NewLoader(LoaderConfig{Path: path, Registrar: reg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	_, err = loader.Sync(ctx)
	require.NoError(t, err)

	var reloads atomic.Int32
	w, err := NewWatcher(loader, WatcherConfig{
		Debounce: 20 * time.Millisecond,
		OnSync: func(changed bool, _ error) {
			if changed {
				reloads.Add(1)
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeFile(t, path, "sources:\n  - id: local\n    type: memory\n  - id: second\n    type: memory\n")

	assert.Eventually(t, func() bool {
		return len(reg.IDs()) == 2 && reloads.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"local", "second"}, reg.IDs())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	loader, err := NewLoader(LoaderConfig{Path: path, Registrar: newRecordingRegistrar()})
	require.NoError(t, err)

	w, err := NewWatcher(loader, WatcherConfig{})
	require.NoError(t, err)
	w.Stop()
}
