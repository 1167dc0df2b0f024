// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package handles maps opaque string handles to the stateful handlers behind them.
//
// Every standing or one-shot query a client submits is bound here; the transport layer
// resolves the handle on each call and releases it when the client cancels. Handles are
// random 128-bit UUIDs and are never shared by two live bindings.
package handles

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/internal/csync"
)

var (
	// ErrNotFound is returned for handles that were never bound or were released.
	ErrNotFound = errors.New("handle not found")

	// ErrKindMismatch is returned when a handle resolves to a handler of another type.
	ErrKindMismatch = errors.New("handle bound to a different handler kind")
)

// maxBindAttempts bounds id regeneration on collision.
const maxBindAttempts = 8

// Config configures a Registry.
type Config struct {
	Logger *zap.Logger

	// OnEvict is called for every entry the idle janitor releases.
	OnEvict func(id string, handler any)

	// Clock overrides time.Now for lastUsed bookkeeping.
	Clock func() time.Time
}

type entry struct {
	kind     string
	handler  any
	lastUsed atomic.Int64 // unix nanos
}

// Registry binds handles to handlers. Safe for concurrent use.
type Registry struct {
	entries *csync.Map[string, *entry]
	logger  *zap.Logger
	onEvict func(id string, handler any)
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		entries: csync.NewMap[string, *entry](),
		logger:  cfg.Logger,
		onEvict: cfg.OnEvict,
		now:     cfg.Clock,
	}
}

// Bind registers handler under a fresh handle and returns the handle.
func (r *Registry) Bind(kind string, handler any) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("cannot bind nil %s handler", kind)
	}

	e := &entry{kind: kind, handler: handler}
	e.lastUsed.Store(r.now().UnixNano())

	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to generate handle: %w", err)
		}
		if r.entries.SetIfAbsent(id.String(), e) {
			r.logger.Debug("Bound handle",
				zap.String("handle", id.String()),
				zap.String("kind", kind))
			return id.String(), nil
		}
		r.logger.Warn("Handle collision, regenerating", zap.String("handle", id.String()))
	}
	return "", fmt.Errorf("failed to allocate a unique handle after %d attempts", maxBindAttempts)
}

// Resolve returns the handler bound to id and marks it as used.
func (r *Registry) Resolve(id string) (any, error) {
	e, ok := r.entries.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.lastUsed.Store(r.now().UnixNano())
	return e.handler, nil
}

// Kind returns the kind label id was bound with.
func (r *Registry) Kind(id string) (string, error) {
	e, ok := r.entries.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.kind, nil
}

// Release removes the binding for id. Releasing an unknown or already released handle
// is not an error; the return value reports whether a binding was removed.
func (r *Registry) Release(id string) bool {
	e, ok := r.entries.Take(id)
	if ok {
		r.logger.Debug("Released handle",
			zap.String("handle", id),
			zap.String("kind", e.kind))
	}
	return ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return r.entries.Len()
}

// IDs returns the live handles bound with kind, sorted. An empty kind lists every handle.
func (r *Registry) IDs(kind string) []string {
	var ids []string
	for id, e := range r.entries.Seq2() {
		if kind == "" || e.kind == kind {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// EvictIdle releases every handle not resolved since before cutoff and returns how many
// were evicted.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	limit := cutoff.UnixNano()
	evicted := r.entries.DeleteFunc(func(_ string, e *entry) bool {
		return e.lastUsed.Load() < limit
	})
	for id, e := range evicted {
		r.logger.Info("Evicted idle handle",
			zap.String("handle", id),
			zap.String("kind", e.kind),
			zap.Time("last_used", time.Unix(0, e.lastUsed.Load())))
		if r.onEvict != nil {
			r.onEvict(id, e.handler)
		}
	}
	return len(evicted)
}
