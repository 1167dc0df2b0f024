// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/buffer"
	"github.com/teradata-labs/sqgate/pkg/convert"
	"github.com/teradata-labs/sqgate/pkg/drain"
	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/handles"
	"github.com/teradata-labs/sqgate/pkg/poller"
	"github.com/teradata-labs/sqgate/pkg/standing"
)

// StandingQueryRequest describes a standing query submission.
type StandingQueryRequest struct {
	Query            *federation.Query
	User             string
	Properties       map[string]string
	ResultAttributes []string

	// StartAfter delays the first cycle; RunFor bounds the lifespan. Zero leaves the
	// bound open.
	StartAfter time.Duration
	RunFor     time.Duration

	// HitCap caps every drain. The zero value is unbounded.
	HitCap drain.Limit

	// Callback, when set, is registered before the first cycle runs.
	Callback standing.Callback
}

// standingQuery is the handler bound to a standing query handle.
type standingQuery struct {
	ctrl      *standing.Controller[federation.Result]
	query     federation.Query
	converter *convert.Converter
}

// SubmitStandingQuery binds a new standing query and schedules its polling. Returns
// the handle addressing it.
func (s *Service) SubmitStandingQuery(ctx context.Context, req StandingQueryRequest) (string, error) {
	if err := validateQuery(req.Query); err != nil {
		return "", err
	}

	now := s.now()
	ctrl := standing.New[federation.Result](standing.Config{
		User:       req.User,
		Properties: req.Properties,
		Lifespan:   standing.LifespanFromNow(now, req.StartAfter, req.RunFor),
		HitCap:     req.HitCap,
		Logger:     s.logger.Named("standing"),
		Clock:      s.now,
	})
	sq := &standingQuery{
		ctrl:      ctrl,
		query:     *req.Query,
		converter: s.converter.WithAttributes(req.ResultAttributes),
	}

	ref, err := handles.BindRef(s.registry, KindStanding, sq)
	if err != nil {
		return "", fmt.Errorf("failed to bind standing query: %w", err)
	}
	id := ref.ID()
	ctrl.SetHandle(id)

	if req.Callback != nil {
		if _, err := ctrl.RegisterCallback(req.Callback); err != nil {
			ref.Release()
			return "", fmt.Errorf("failed to register callback: %w", err)
		}
	}

	if err := s.poller.Add(ctx, poller.Job{
		Handle:  id,
		Query:   sq.query,
		Target:  ctrl,
		Sources: s.querySources,
	}); err != nil {
		ctrl.Cancel()
		ref.Release()
		return "", fmt.Errorf("failed to schedule standing query: %w", err)
	}

	s.metrics.ObserveSubmit(KindStanding)
	s.metrics.HandleBound(KindStanding)
	s.logger.Info("Standing query submitted",
		zap.String("handle", id),
		zap.String("user", req.User),
		zap.String("view", req.Query.View),
		zap.Stringer("lifespan", ctrl.Lifespan()),
		zap.Stringer("hit_cap", req.HitCap))
	return id, nil
}

func (s *Service) lookupStanding(id string) (*standingQuery, error) {
	return handles.Lookup[*standingQuery](s.registry, id)
}

func (s *Service) controller(id string) (*standing.Controller[federation.Result], error) {
	sq, err := s.lookupStanding(id)
	if err != nil {
		return nil, err
	}
	return sq.ctrl, nil
}

// Drain removes and returns up to maxRecords buffered records, oldest first, converted
// for the client. Records that fail conversion are dropped.
func (s *Service) Drain(ctx context.Context, id string, maxRecords int) ([]*structpb.Struct, error) {
	sq, err := s.lookupStanding(id)
	if err != nil {
		return nil, err
	}

	results := sq.ctrl.Drain(maxRecords)
	records := drain.Apply(ctx, results, drain.Unbounded(), sq.converter.Convert, s.skipped(id))
	s.metrics.ObserveDrain(KindStanding, len(records))
	return records, nil
}

// SetHitCap caps the records returned per drain (standing) or per completion (one-shot).
func (s *Service) SetHitCap(id string, limit drain.Limit) error {
	handler, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	switch h := handler.(type) {
	case *standingQuery:
		h.ctrl.SetHitCap(limit)
	case *oneShot:
		h.setHitCap(limit)
	default:
		return fmt.Errorf("%w: %s", handles.ErrKindMismatch, id)
	}
	return nil
}

// Pause suspends polling for id; buffered records stay drainable.
func (s *Service) Pause(id string) error {
	ctrl, err := s.controller(id)
	if err != nil {
		return err
	}
	ctrl.Pause()
	return nil
}

// Resume re-enables polling for id and triggers an immediate cycle.
func (s *Service) Resume(id string) error {
	ctrl, err := s.controller(id)
	if err != nil {
		return err
	}
	ctrl.Resume()
	return nil
}

// ClearAll discards every buffered record of id.
func (s *Service) ClearAll(id string) error {
	ctrl, err := s.controller(id)
	if err != nil {
		return err
	}
	ctrl.ClearAll()
	return nil
}

// ClearOldestIntervals discards the n oldest poll intervals of id.
func (s *Service) ClearOldestIntervals(id string, n int) error {
	ctrl, err := s.controller(id)
	if err != nil {
		return err
	}
	ctrl.ClearOldestIntervals(n)
	return nil
}

// ClearOlderThan discards the intervals of id produced more than maxAge ago.
func (s *Service) ClearOlderThan(id string, maxAge time.Duration) error {
	ctrl, err := s.controller(id)
	if err != nil {
		return err
	}
	ctrl.ClearOlderThan(maxAge)
	return nil
}

// IntervalCount returns the number of buffered poll intervals of id.
func (s *Service) IntervalCount(id string) (int, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return 0, err
	}
	return ctrl.IntervalCount(), nil
}

// HitsInInterval returns the records in interval i of id, 0 when out of range.
func (s *Service) HitsInInterval(id string, i int) (int, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return 0, err
	}
	return ctrl.HitsInInterval(i), nil
}

// Pending returns the number of buffered records of id.
func (s *Service) Pending(id string) (int, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return 0, err
	}
	return ctrl.Size(), nil
}

// LastExecuted returns when id was last polled; ok is false before the first cycle.
func (s *Service) LastExecuted(id string) (t time.Time, ok bool, err error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok = ctrl.LastExecuted()
	return t, ok, nil
}

// NextExecution returns when id will be polled next; ok is false when unknown.
func (s *Service) NextExecution(id string) (t time.Time, ok bool, err error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok = ctrl.NextExecution()
	return t, ok, nil
}

// RemainingDelay returns the time until the next cycle of id.
func (s *Service) RemainingDelay(id string) (time.Duration, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return 0, err
	}
	return ctrl.RemainingDelay(s.now()), nil
}

// Buffered returns the buffer shape of id.
func (s *Service) Buffered(id string) (buffer.Stats, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return buffer.Stats{}, err
	}
	return ctrl.Stats(), nil
}

// Status returns the state of id.
func (s *Service) Status(id string) (standing.Status, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return standing.StatusCanceled, err
	}
	return ctrl.Status(), nil
}

// Description summarizes id.
func (s *Service) Description(id string) (string, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return "", err
	}
	return ctrl.Description(), nil
}

// RegisterCallback subscribes cb to results-available notifications of id.
func (s *Service) RegisterCallback(id string, cb standing.Callback) (string, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return "", err
	}
	return ctrl.RegisterCallback(cb)
}

// FreeCallback unsubscribes callbackID from id.
func (s *Service) FreeCallback(id, callbackID string) (bool, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return false, err
	}
	return ctrl.FreeCallback(callbackID), nil
}

// RunNow polls id immediately.
func (s *Service) RunNow(ctx context.Context, id string) error {
	if _, err := s.controller(id); err != nil {
		return err
	}
	return s.poller.RunNow(ctx, id)
}

// skipped logs records dropped during conversion.
func (s *Service) skipped(id string) func(federation.Result, error) {
	return func(r federation.Result, err error) {
		s.logger.Debug("Skipping record that failed conversion",
			zap.String("handle", id),
			zap.String("record_id", r.ID),
			zap.Error(err))
	}
}
