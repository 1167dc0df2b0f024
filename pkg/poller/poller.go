// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package poller runs the periodic federated searches that feed standing queries.
//
// Each standing query gets one cron entry. A cycle asks the federator for records
// modified since the previous cycle started, pages through the backend when it reports
// more hits than it returned, and appends each non-empty page as its own batch, so one
// cycle can open several intervals. The query's callbacks are notified once per cycle.
//
// Cycles run under a context owned by the poller. Remove cancels the job's context and
// Stop cancels them all, which interrupts searches still in flight.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/standing"
)

// Defaults.
const (
	DefaultInterval          = 60 * time.Second
	DefaultPageSize          = 500
	DefaultMaxPendingResults = 10000
	DefaultMaxWaitToStart    = 5 * time.Minute

	// queryOverlap widens each incremental window to catch records committed late.
	queryOverlap = time.Second
)

// Searcher executes federated searches.
type Searcher interface {
	Search(ctx context.Context, req federation.Request) (federation.Response, error)
}

// Target is the standing query a job feeds.
type Target interface {
	Accepting(now time.Time) bool
	Canceled() bool
	Lifespan() standing.Lifespan
	Size() int
	Append(records []federation.Result) bool
	RecordExecution(last, next time.Time)
	NotifyResultsAvailable(ctx context.Context) int
	Wake() <-chan struct{}
	Done() <-chan struct{}
}

// Observer receives per-cycle measurements.
type Observer interface {
	ObservePoll(status string, records int, duration time.Duration)
}

// Job is one standing query to poll.
type Job struct {
	Handle string
	Query  federation.Query
	Target Target

	// Sources returns the sources to search on each cycle. Nil means the local source.
	Sources func() []string
}

// Config configures a Poller.
type Config struct {
	Searcher          Searcher
	Store             *Store
	Observer          Observer
	Logger            *zap.Logger
	Tracer            trace.Tracer
	Interval          time.Duration
	PageSize          int
	MaxPendingResults int
	MaxWaitToStart    time.Duration

	// OnExpired is called once a job's lifespan has ended and the job was removed.
	OnExpired func(handle string)

	Clock func() time.Time
}

// jobState is the per-query cursor.
type jobState struct {
	job     Job
	entryID cron.EntryID
	running sync.Mutex

	// guarded by running
	lastStart     time.Time
	since         time.Time
	startIndex    int
	moreAvailable bool

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// halt cancels the job's cycles and ends its supervisor.
func (s *jobState) halt() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stop)
	})
}

// Poller schedules and runs poll cycles.
type Poller struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

// New creates a poller. Call Start to begin running cycles.
func New(cfg Config) (*Poller, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/teradata-labs/sqgate/pkg/poller")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPendingResults <= 0 {
		cfg.MaxPendingResults = DefaultMaxPendingResults
	}
	if cfg.MaxWaitToStart <= 0 {
		cfg.MaxWaitToStart = DefaultMaxWaitToStart
	}

	cronLogger := zapCronLogger{logger: cfg.Logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		now:    cfg.Clock,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobState),
	}, nil
}

// Start starts the cron engine.
func (p *Poller) Start() {
	p.cron.Start()
	p.logger.Info("Poller started", zap.Duration("interval", p.cfg.Interval))
}

// Stop removes every job, cancels cycles in flight and waits for them to return or
// ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.cancel()

	p.mu.Lock()
	for _, state := range p.jobs {
		state.halt()
	}
	p.jobs = make(map[string]*jobState)
	p.mu.Unlock()

	cronCtx := p.cron.Stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poller stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Poller shutdown timeout, some cycles may still be running")
		return ctx.Err()
	}
}

// Add schedules job. The first cycle runs immediately when the lifespan has started,
// otherwise once it starts (waiting at most MaxWaitToStart).
func (p *Poller) Add(ctx context.Context, job Job) error {
	if job.Handle == "" {
		return fmt.Errorf("job handle is required")
	}
	if job.Target == nil {
		return fmt.Errorf("job target is required")
	}

	jobCtx, cancel := context.WithCancel(p.ctx)
	state := &jobState{job: job, ctx: jobCtx, cancel: cancel, stop: make(chan struct{})}

	p.mu.Lock()
	if _, exists := p.jobs[job.Handle]; exists {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("standing query %s is already scheduled", job.Handle)
	}

	spec := fmt.Sprintf("@every %s", p.cfg.Interval)
	entryID, err := p.cron.AddFunc(spec, func() { p.runCycle(state.ctx, state) })
	if err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	state.entryID = entryID
	p.jobs[job.Handle] = state
	p.mu.Unlock()

	if p.cfg.Store != nil {
		if err := p.cfg.Store.RegisterQuery(ctx, job.Handle, job.Query.View, job.Query.Expression, p.now()); err != nil {
			p.logger.Error("Failed to register standing query history", zap.String("handle", job.Handle), zap.Error(err))
		}
	}

	now := p.now()
	first := time.Duration(0)
	if start := job.Target.Lifespan().Start; !start.IsZero() && start.After(now) {
		first = min(start.Sub(now), p.cfg.MaxWaitToStart)
		p.logger.Debug("Start time for standing query is in the future",
			zap.String("handle", job.Handle),
			zap.Duration("wait", first))
	}
	job.Target.RecordExecution(time.Time{}, now.Add(first))

	p.wg.Add(1)
	go p.supervise(state, first)

	p.logger.Info("Scheduled standing query",
		zap.String("handle", job.Handle),
		zap.String("view", job.Query.View),
		zap.Duration("interval", p.cfg.Interval))
	return nil
}

// Remove unschedules handle. Returns false when it was not scheduled.
func (p *Poller) Remove(ctx context.Context, handle string) bool {
	p.mu.Lock()
	state, ok := p.jobs[handle]
	if ok {
		delete(p.jobs, handle)
		p.cron.Remove(state.entryID)
		state.halt()
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	if p.cfg.Store != nil {
		if err := p.cfg.Store.MarkRemoved(ctx, handle, p.now()); err != nil {
			p.logger.Error("Failed to mark standing query removed", zap.String("handle", handle), zap.Error(err))
		}
	}
	p.logger.Info("Unscheduled standing query", zap.String("handle", handle))
	return true
}

// Store returns the execution history store, nil when history is disabled.
func (p *Poller) Store() *Store {
	return p.cfg.Store
}

// Scheduled reports whether handle has a cron entry.
func (p *Poller) Scheduled(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[handle]
	return ok
}

// RunNow runs one cycle for handle synchronously. A cycle already in progress makes
// this a no-op. The cycle ends early when either ctx or the job is canceled.
func (p *Poller) RunNow(ctx context.Context, handle string) error {
	p.mu.Lock()
	state, ok := p.jobs[handle]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("standing query %s is not scheduled", handle)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(state.ctx, cancel)
	defer release()

	p.runCycle(ctx, state)
	return nil
}

// supervise runs the delayed first cycle, reacts to Resume and drops the job once the
// target is canceled.
func (p *Poller) supervise(state *jobState, firstDelay time.Duration) {
	defer p.wg.Done()

	first := time.NewTimer(firstDelay)
	defer first.Stop()

	for {
		select {
		case <-state.stop:
			return
		case <-state.job.Target.Done():
			p.Remove(context.Background(), state.job.Handle)
			return
		case <-first.C:
			p.runCycle(state.ctx, state)
		case <-state.job.Target.Wake():
			p.runCycle(state.ctx, state)
		}
	}
}

// runCycle executes one poll cycle. Overlapping calls for the same job are skipped.
func (p *Poller) runCycle(ctx context.Context, state *jobState) {
	if !state.running.TryLock() {
		p.logger.Debug("Skipping cycle, previous still running", zap.String("handle", state.job.Handle))
		return
	}
	defer state.running.Unlock()

	select {
	case <-state.stop:
		return
	default:
	}

	job := state.job
	target := job.Target
	start := p.now()

	if target.Canceled() {
		return
	}
	if target.Lifespan().Expired(start) {
		p.logger.Info("Standing query reached the end of its lifespan", zap.String("handle", job.Handle))
		p.Remove(context.WithoutCancel(ctx), job.Handle)
		if p.cfg.OnExpired != nil {
			p.cfg.OnExpired(job.Handle)
		}
		return
	}

	ctx, span := p.tracer.Start(ctx, "poller.Cycle",
		trace.WithAttributes(attribute.String("handle", job.Handle)))
	defer span.End()

	executionID := uuid.NewString()
	status, records, err := p.collect(ctx, state, start)
	if state.ctx.Err() != nil {
		p.logger.Debug("Cycle interrupted, standing query unscheduled",
			zap.String("handle", job.Handle),
			zap.String("execution_id", executionID),
			zap.Int("records", records))
		return
	}

	completed := p.now()
	next := completed.Add(p.cfg.Interval)
	target.RecordExecution(start, next)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("Standing query cycle failed",
			zap.String("handle", job.Handle),
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
	span.SetAttributes(attribute.String("status", status), attribute.Int("records", records))

	if target.Size() > 0 {
		target.NotifyResultsAvailable(ctx)
	}

	duration := completed.Sub(start)
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObservePoll(status, records, duration)
	}
	if p.cfg.Store != nil {
		exec := Execution{
			ExecutionID: executionID,
			Handle:      job.Handle,
			StartedAt:   start,
			CompletedAt: completed,
			Status:      status,
			Records:     records,
			Duration:    duration,
		}
		if err != nil {
			exec.Error = err.Error()
		}
		if storeErr := p.cfg.Store.RecordExecution(ctx, exec, next); storeErr != nil {
			p.logger.Error("Failed to record execution", zap.String("handle", job.Handle), zap.Error(storeErr))
		}
	}
}

// collect searches page after page until the backend has nothing more or the target
// stops accepting, appending each non-empty page as one batch.
func (p *Poller) collect(ctx context.Context, state *jobState, start time.Time) (string, int, error) {
	job := state.job
	target := job.Target

	if !target.Accepting(start) {
		return StatusSkipped, 0, nil
	}
	if job.Query.View == federation.ViewAssociation {
		return StatusSkipped, 0, nil
	}

	// Keep the window fixed until every page of the previous query was fetched.
	if !state.moreAvailable {
		if !state.lastStart.IsZero() {
			state.since = state.lastStart.Add(-queryOverlap)
		}
		state.lastStart = start
		state.startIndex = 0
	}

	total := 0
	for {
		if target.Size() > p.cfg.MaxPendingResults {
			p.logger.Debug("Pending results above ceiling, not querying",
				zap.String("handle", job.Handle),
				zap.Int("pending", target.Size()),
				zap.Int("max_pending", p.cfg.MaxPendingResults))
			if total == 0 {
				return StatusSkipped, 0, nil
			}
			return StatusSuccess, total, nil
		}

		req := federation.Request{
			Query:      job.Query,
			Since:      state.since,
			StartIndex: state.startIndex,
			PageSize:   p.cfg.PageSize,
		}
		if job.Sources != nil {
			req.Sources = job.Sources()
		}

		resp, err := p.cfg.Searcher.Search(ctx, req)
		if err != nil {
			return StatusFailed, total, fmt.Errorf("search failed: %w", err)
		}

		if len(resp.Results) > 0 {
			if !target.Append(resp.Results) {
				return StatusSkipped, total, nil
			}
			total += len(resp.Results)
		}

		state.moreAvailable = resp.MoreAvailable(req) && len(resp.Results) > 0
		if !state.moreAvailable {
			return StatusSuccess, total, nil
		}
		state.startIndex += len(resp.Results)

		if ctx.Err() != nil || !target.Accepting(p.now()) {
			return StatusSuccess, total, ctx.Err()
		}
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
