// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/convert"
	"github.com/teradata-labs/sqgate/pkg/drain"
	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/handles"
)

// QueryRequest describes a one-shot query submission.
type QueryRequest struct {
	Query            *federation.Query
	User             string
	ResultAttributes []string

	// HitCap caps the records returned per completion. The zero value is unbounded.
	HitCap drain.Limit
}

// oneShot is the handler bound to a one-shot query handle. Each completion returns the
// next page after what earlier completions returned.
type oneShot struct {
	query     federation.Query
	user      string
	converter *convert.Converter

	mu       sync.Mutex
	hitCap   drain.Limit
	returned int
	canceled bool
}

func (o *oneShot) setHitCap(limit drain.Limit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hitCap = limit
}

func (o *oneShot) cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled = true
}

// SubmitQuery binds a one-shot query. Nothing is searched until Complete.
func (s *Service) SubmitQuery(ctx context.Context, req QueryRequest) (string, error) {
	if err := validateQuery(req.Query); err != nil {
		return "", err
	}

	q := &oneShot{
		query:     *req.Query,
		user:      req.User,
		converter: s.converter.WithAttributes(req.ResultAttributes),
		hitCap:    req.HitCap,
	}
	id, err := s.registry.Bind(KindOneShot, q)
	if err != nil {
		return "", fmt.Errorf("failed to bind query: %w", err)
	}

	s.metrics.ObserveSubmit(KindOneShot)
	s.metrics.HandleBound(KindOneShot)
	s.logger.Info("Query submitted",
		zap.String("handle", id),
		zap.String("user", req.User),
		zap.String("view", req.Query.View))
	return id, nil
}

// Complete runs the one-shot query id and returns up to its hit cap of converted records,
// continuing after the records returned by earlier calls.
func (s *Service) Complete(ctx context.Context, id string) ([]*structpb.Struct, error) {
	q, err := handles.Lookup[*oneShot](s.registry, id)
	if err != nil {
		return nil, err
	}

	// Serializes completions of one handle so offsets never interleave.
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.canceled {
		return nil, fmt.Errorf("%w: %s", handles.ErrNotFound, id)
	}
	if q.hitCap.Bound(1) == 0 || q.query.View == federation.ViewAssociation {
		return []*structpb.Struct{}, nil
	}

	req := federation.Request{
		Query:      q.query,
		StartIndex: q.returned,
		Sources:    s.querySources(),
	}
	if n, ok := q.hitCap.Value(); ok {
		req.PageSize = n
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", id, err)
	}
	if len(resp.Failed) > 0 {
		s.logger.Warn("Some sources failed",
			zap.String("handle", id),
			zap.Strings("sources", resp.Failed))
	}

	records := drain.Apply(ctx, resp.Results, q.hitCap, q.converter.Convert, s.skipped(id))
	q.returned += len(resp.Results)

	s.metrics.ObserveDrain(KindOneShot, len(records))
	s.logger.Debug("Query completed",
		zap.String("handle", id),
		zap.Int("records", len(records)),
		zap.Int("hits", resp.Hits),
		zap.Int("returned_total", q.returned))
	return records, nil
}
