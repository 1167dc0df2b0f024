// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package federation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config configures a Federator.
type Config struct {
	Logger *zap.Logger
	Tracer trace.Tracer

	// MaxConcurrency bounds how many sources one search queries at once. Default 8.
	MaxConcurrency int

	// QueryTimeout bounds each source call. Zero means no per-source timeout.
	QueryTimeout time.Duration

	// SourceRate and SourceBurst limit calls per source. A zero rate disables limiting.
	SourceRate  rate.Limit
	SourceBurst int
}

type registeredSource struct {
	source  Source
	limiter *rate.Limiter
}

// Federator searches a set of sources concurrently and merges the results.
type Federator struct {
	logger         *zap.Logger
	tracer         trace.Tracer
	maxConcurrency int
	queryTimeout   time.Duration
	sourceRate     rate.Limit
	sourceBurst    int

	mu      sync.RWMutex
	sources map[string]*registeredSource
}

// NewFederator creates a federator with no sources.
func NewFederator(cfg Config) *Federator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/teradata-labs/sqgate/pkg/federation")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.SourceBurst <= 0 {
		cfg.SourceBurst = 1
	}
	return &Federator{
		logger:         cfg.Logger,
		tracer:         cfg.Tracer,
		maxConcurrency: cfg.MaxConcurrency,
		queryTimeout:   cfg.QueryTimeout,
		sourceRate:     cfg.SourceRate,
		sourceBurst:    cfg.SourceBurst,
		sources:        make(map[string]*registeredSource),
	}
}

// Register adds or replaces a source.
func (f *Federator) Register(src Source) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if f.sourceRate > 0 {
		limiter = rate.NewLimiter(f.sourceRate, f.sourceBurst)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[src.ID()] = &registeredSource{source: src, limiter: limiter}
	f.logger.Info("Registered result source", zap.String("source", src.ID()))
}

// Unregister removes a source. Returns false when it was not registered.
func (f *Federator) Unregister(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return false
	}
	delete(f.sources, id)
	f.logger.Info("Unregistered result source", zap.String("source", id))
	return true
}

// Has reports whether a source is registered.
func (f *Federator) Has(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.sources[id]
	return ok
}

// SourceIDs lists registered sources, sorted.
func (f *Federator) SourceIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.sources))
	for id := range f.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Search queries the sources named in req (the local source when none are named),
// merges their results and returns the requested page. A source that fails is logged
// and reported in Response.Failed; the search still succeeds with the others.
func (f *Federator) Search(ctx context.Context, req Request) (Response, error) {
	ctx, span := f.tracer.Start(ctx, "federation.Search",
		trace.WithAttributes(
			attribute.String("view", req.Query.View),
			attribute.Int("start_index", req.StartIndex),
			attribute.Int("page_size", req.PageSize),
		))
	defer span.End()

	if req.Query.View == ViewAssociation {
		span.SetAttributes(attribute.Bool("association", true))
		return Response{Results: []Result{}}, nil
	}

	targets, err := f.resolve(req.Sources)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	// Sources see the unpaged request; paging applies to the merged list.
	sourceReq := req
	sourceReq.StartIndex = 0
	sourceReq.PageSize = 0

	var (
		mu       sync.Mutex
		combined []Result
		failed   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			resp, err := f.querySource(gctx, target, sourceReq)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Warn("Result source failed, skipping",
					zap.String("source", target.source.ID()),
					zap.Error(err))
				failed = append(failed, target.source.ID())
				return nil
			}
			combined = append(combined, resp.Results...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context cancelled")
		return Response{}, err
	}

	merged := Merge(combined)
	slices.Sort(failed)
	resp := Response{
		Results: Page(merged, req),
		Hits:    len(merged),
		Failed:  failed,
	}

	span.SetAttributes(
		attribute.Int("hits", resp.Hits),
		attribute.Int("result_count", len(resp.Results)),
		attribute.Int("failed_sources", len(failed)),
	)
	f.logger.Debug("Federated search completed",
		zap.Int("sources", len(targets)),
		zap.Int("hits", resp.Hits),
		zap.Int("returned", len(resp.Results)))
	return resp, nil
}

func (f *Federator) querySource(ctx context.Context, target *registeredSource, req Request) (Response, error) {
	ctx, span := f.tracer.Start(ctx, "federation.QuerySource",
		trace.WithAttributes(attribute.String("source", target.source.ID())))
	defer span.End()

	if err := target.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("rate limit wait: %w", err)
	}

	if f.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.queryTimeout)
		defer cancel()
	}

	resp, err := target.source.Query(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	span.SetAttributes(attribute.Int("result_count", len(resp.Results)))
	return resp, nil
}

func (f *Federator) resolve(ids []string) ([]*registeredSource, error) {
	if len(ids) == 0 {
		ids = []string{LocalSourceID}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	targets := make([]*registeredSource, 0, len(ids))
	for _, id := range ids {
		src, ok := f.sources[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
		}
		targets = append(targets, src)
	}
	return targets, nil
}
