// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package gateway is the client-facing API of sqgate: submission of standing and
// one-shot queries, and every operation addressed by the handle a submission returns.
package gateway

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/internal/csync"
	"github.com/teradata-labs/sqgate/pkg/convert"
	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/handles"
	"github.com/teradata-labs/sqgate/pkg/metrics"
	"github.com/teradata-labs/sqgate/pkg/poller"
)

// Handle kinds.
const (
	KindStanding = "standing"
	KindOneShot  = "oneshot"
)

// ErrInvalidQuery is returned when a submission carries no usable query.
var ErrInvalidQuery = errors.New("invalid query")

// Config configures a Service.
type Config struct {
	// Searcher runs federated searches, usually a *federation.Federator.
	Searcher poller.Searcher

	// Converter renders results for clients. Nil converts with default settings.
	Converter *convert.Converter

	// Poller settings. Searcher, Observer and OnExpired are filled in by the service.
	Poller poller.Config

	// IdleTimeout releases handles unused for this long. Zero disables eviction.
	IdleTimeout     time.Duration
	JanitorInterval time.Duration

	// QuerySources is the initial set of sources searched. Empty means the local source.
	QuerySources []string

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// sourceChecker is implemented by searchers that know their sources.
type sourceChecker interface {
	Has(id string) bool
}

// Service implements the gateway operations. Safe for concurrent use.
type Service struct {
	searcher  poller.Searcher
	converter *convert.Converter
	registry  *handles.Registry
	poller    *poller.Poller
	sources   *csync.Set[string]
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	idleTimeout     time.Duration
	janitorInterval time.Duration
	janitor         *handles.Janitor
}

// New creates a service. Call Start before submitting standing queries.
func New(cfg Config) (*Service, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Converter == nil {
		cfg.Converter = convert.New(convert.Config{})
	}

	s := &Service{
		searcher:        cfg.Searcher,
		converter:       cfg.Converter,
		sources:         csync.NewSet(cfg.QuerySources...),
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		now:             cfg.Clock,
		idleTimeout:     cfg.IdleTimeout,
		janitorInterval: cfg.JanitorInterval,
	}

	s.registry = handles.NewRegistry(handles.Config{
		Logger:  cfg.Logger.Named("handles"),
		OnEvict: s.evicted,
		Clock:   cfg.Clock,
	})

	pcfg := cfg.Poller
	pcfg.Searcher = cfg.Searcher
	pcfg.OnExpired = s.expired
	if cfg.Metrics != nil {
		pcfg.Observer = cfg.Metrics
	}
	if pcfg.Logger == nil {
		pcfg.Logger = cfg.Logger.Named("poller")
	}
	if pcfg.Clock == nil {
		pcfg.Clock = cfg.Clock
	}
	p, err := poller.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}
	s.poller = p

	return s, nil
}

// Start starts the poller and, when an idle timeout is configured, the handle janitor.
func (s *Service) Start(ctx context.Context) {
	s.poller.Start()
	s.janitor = s.registry.StartJanitor(ctx, s.idleTimeout, s.janitorInterval)
	s.logger.Info("Gateway started",
		zap.Strings("query_sources", s.QuerySources()),
		zap.Duration("idle_timeout", s.idleTimeout))
}

// Close stops polling and releases every live handle.
func (s *Service) Close(ctx context.Context) error {
	s.janitor.Stop()
	err := s.poller.Stop(ctx)

	for _, id := range s.registry.IDs("") {
		if cancelErr := s.Cancel(ctx, id); cancelErr != nil && !errors.Is(cancelErr, handles.ErrNotFound) {
			s.logger.Warn("Failed to cancel handle on shutdown", zap.String("handle", id), zap.Error(cancelErr))
		}
	}
	s.logger.Info("Gateway stopped")
	return err
}

// Cancel stops the operation behind id and invalidates the handle.
func (s *Service) Cancel(ctx context.Context, id string) error {
	handler, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}

	switch h := handler.(type) {
	case *standingQuery:
		h.ctrl.Cancel()
		s.poller.Remove(ctx, id)
	case *oneShot:
		h.cancel()
	}

	if s.registry.Release(id) {
		s.metrics.HandleReleased(kindOf(handler))
		s.logger.Debug("Handle released", zap.String("handle", id))
	}
	return nil
}

// ActiveRequests returns the live handles of kind, or of every kind when kind is empty.
func (s *Service) ActiveRequests(kind string) []string {
	return s.registry.IDs(kind)
}

// QuerySources returns the sources searched by new cycles, sorted. Empty means the local
// source only.
func (s *Service) QuerySources() []string {
	return s.sources.Sorted(cmp.Compare[string])
}

// AddQuerySource adds id to the searched sources.
func (s *Service) AddQuerySource(id string) error {
	if id == "" {
		return fmt.Errorf("source id is required")
	}
	if checker, ok := s.searcher.(sourceChecker); ok && !checker.Has(id) {
		return fmt.Errorf("%w: %s", federation.ErrUnknownSource, id)
	}
	if s.sources.Add(id) {
		s.logger.Info("Query source added", zap.String("source", id))
	}
	return nil
}

// RemoveQuerySource removes id from the searched sources.
func (s *Service) RemoveQuerySource(id string) bool {
	removed := s.sources.Remove(id)
	if removed {
		s.logger.Info("Query source removed", zap.String("source", id))
	}
	return removed
}

// querySources is evaluated on every search so source changes apply to running queries.
func (s *Service) querySources() []string {
	if s.sources.Len() == 0 {
		return nil
	}
	return s.QuerySources()
}

// History returns the recorded poll cycles of a standing query, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]poller.Execution, error) {
	store := s.poller.Store()
	if store == nil {
		return nil, fmt.Errorf("execution history is not enabled")
	}
	return store.History(ctx, id, limit)
}

// expired is called by the poller once a standing query's lifespan has ended.
func (s *Service) expired(id string) {
	s.logger.Info("Standing query expired", zap.String("handle", id))
	if err := s.Cancel(context.Background(), id); err != nil && !errors.Is(err, handles.ErrNotFound) {
		s.logger.Warn("Failed to cancel expired query", zap.String("handle", id), zap.Error(err))
	}
}

// evicted is called by the registry janitor for idle handles.
func (s *Service) evicted(id string, handler any) {
	switch h := handler.(type) {
	case *standingQuery:
		h.ctrl.Cancel()
	case *oneShot:
		h.cancel()
	}
	s.metrics.HandleReleased(kindOf(handler))
	s.logger.Info("Idle handle evicted", zap.String("handle", id), zap.String("kind", kindOf(handler)))
}

func kindOf(handler any) string {
	switch handler.(type) {
	case *standingQuery:
		return KindStanding
	case *oneShot:
		return KindOneShot
	default:
		return "unknown"
	}
}

// validateQuery rejects submissions without a query or view.
func validateQuery(q *federation.Query) error {
	if q == nil {
		return fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if q.View == "" {
		return fmt.Errorf("%w: view is required", ErrInvalidQuery)
	}
	return nil
}
