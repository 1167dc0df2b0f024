// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package poller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/standing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedSearcher returns queued responses in order, then empty ones.
type scriptedSearcher struct {
	mu        sync.Mutex
	responses []federation.Response
	err       error
	requests  []federation.Request
}

func (s *scriptedSearcher) Search(ctx context.Context, req federation.Request) (federation.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return federation.Response{}, s.err
	}
	if len(s.responses) == 0 {
		return federation.Response{}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedSearcher) Requests() []federation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]federation.Request(nil), s.requests...)
}

// blockingSearcher holds every search until release is closed or ctx is done.
type blockingSearcher struct {
	resp        federation.Response
	started     chan struct{}
	release     chan struct{}
	interrupted chan struct{}
	once        sync.Once
}

func newBlockingSearcher(resp federation.Response) *blockingSearcher {
	return &blockingSearcher{
		resp:        resp,
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
		interrupted: make(chan struct{}),
	}
}

func (s *blockingSearcher) Search(ctx context.Context, req federation.Request) (federation.Response, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
		return s.resp, nil
	case <-ctx.Done():
		s.once.Do(func() { close(s.interrupted) })
		return federation.Response{}, ctx.Err()
	}
}

func (s *blockingSearcher) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("search never started")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	records  int
}

func (o *recordingObserver) ObservePoll(status string, records int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
	o.records += records
}

func (o *recordingObserver) Statuses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.statuses...)
}

func results(ids ...string) []federation.Result {
	out := make([]federation.Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, federation.Result{ID: id, Title: "track " + id})
	}
	return out
}

func newTestPoller(t *testing.T, cfg Config) *Poller {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func newTarget(t *testing.T, cfg standing.Config) *standing.Controller[federation.Result] {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	c := standing.New[federation.Result](cfg)
	c.SetHandle("sq-1")
	return c
}

func TestNew_RequiresSearcher(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestPoller_FirstCycleAppendsAndNotifies(t *testing.T) {
	fed := federation.NewFederator(federation.Config{Logger: zaptest.NewLogger(t)})
	local := federation.NewMemorySource(federation.LocalSourceID)
	local.Put(results("a", "b")...)
	fed.Register(local)

	p := newTestPoller(t, Config{Searcher: fed})
	target := newTarget(t, standing.Config{})

	var notified atomic.Int32
	_, err := target.RegisterCallback(standing.CallbackFunc(func(ctx context.Context, ev standing.Event) error {
		notified.Add(1)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, p.Add(context.Background(), Job{
		Handle: "sq-1",
		Query:  federation.Query{View: "tracks", Expression: "*"},
		Target: target,
	}))

	require.Eventually(t, func() bool { return notified.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, target.Size())
	assert.Equal(t, 1, target.IntervalCount())
	assert.Equal(t, standing.StatusResultsAvailable, target.Status())

	last, ok := target.LastExecuted()
	require.True(t, ok)
	next, ok := target.NextExecution()
	require.True(t, ok)
	assert.True(t, next.After(last))
}

func TestPoller_DuplicateAddFails(t *testing.T) {
	p := newTestPoller(t, Config{Searcher: &scriptedSearcher{}})
	target := newTarget(t, standing.Config{})
	job := Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}

	require.NoError(t, p.Add(context.Background(), job))
	assert.Error(t, p.Add(context.Background(), job))
	assert.Error(t, p.Add(context.Background(), Job{Handle: "x"}))
	assert.Error(t, p.Add(context.Background(), Job{Target: target}))
}

func TestPoller_IncrementalWindowOverlapsPreviousStart(t *testing.T) {
	clock := newFakeClock()
	searcher := &scriptedSearcher{}
	p := newTestPoller(t, Config{Searcher: searcher, Clock: clock.Now})
	target := newTarget(t, standing.Config{Clock: clock.Now})

	require.NoError(t, p.Add(context.Background(), Job{
		Handle: "sq-1",
		Query:  federation.Query{View: "tracks"},
		Target: target,
	}))
	require.Eventually(t, func() bool { return len(searcher.Requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	firstStart := clock.Now()

	clock.Advance(time.Minute)
	require.NoError(t, p.RunNow(context.Background(), "sq-1"))

	reqs := searcher.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Since.IsZero(), "first cycle searches everything")
	assert.Equal(t, firstStart.Add(-time.Second), reqs[1].Since)
}

func TestPoller_PagesWithinOneCycle(t *testing.T) {
	clock := newFakeClock()
	searcher := &scriptedSearcher{responses: []federation.Response{
		{Results: results("a", "b"), Hits: 5},
		{Results: results("c", "d"), Hits: 5},
		{Results: results("e"), Hits: 5},
	}}
	p := newTestPoller(t, Config{Searcher: searcher, Clock: clock.Now, PageSize: 2})
	target := newTarget(t, standing.Config{Clock: clock.Now})

	require.NoError(t, p.Add(context.Background(), Job{
		Handle: "sq-1",
		Query:  federation.Query{View: "tracks"},
		Target: target,
	}))
	require.Eventually(t, func() bool { return target.Size() == 5 }, 2*time.Second, 10*time.Millisecond)

	reqs := searcher.Requests()
	require.Len(t, reqs, 3)
	for i, want := range []int{0, 2, 4} {
		assert.Equal(t, want, reqs[i].StartIndex)
		assert.Equal(t, reqs[0].Since, reqs[i].Since, "window stays fixed while paging")
	}
	assert.Equal(t, 3, target.IntervalCount())
	assert.Equal(t, []federation.Result{results("a")[0], results("b")[0]}, target.Drain(2))
}

func TestPoller_EmptyCycleAppendsNothing(t *testing.T) {
	searcher := &scriptedSearcher{}
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Observer: obs})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{StatusSuccess}, obs.Statuses())
	assert.Equal(t, 0, target.IntervalCount())
	assert.Equal(t, standing.StatusPending, target.Status())
}

func TestPoller_SkipsWhenPendingAboveCeiling(t *testing.T) {
	searcher := &scriptedSearcher{}
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Observer: obs, MaxPendingResults: 1})
	target := newTarget(t, standing.Config{})
	target.Append(results("x", "y"))

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{StatusSkipped}, obs.Statuses())
	assert.Empty(t, searcher.Requests())
}

func TestPoller_AssociationViewNeverSearches(t *testing.T) {
	searcher := &scriptedSearcher{responses: []federation.Response{{Results: results("a"), Hits: 1}}}
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Observer: obs})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{
		Handle: "sq-1",
		Query:  federation.Query{View: federation.ViewAssociation},
		Target: target,
	}))
	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, searcher.Requests())
	assert.Zero(t, target.Size())
}

func TestPoller_SourcesEvaluatedPerCycle(t *testing.T) {
	searcher := &scriptedSearcher{}
	p := newTestPoller(t, Config{Searcher: searcher})
	target := newTarget(t, standing.Config{})

	var mu sync.Mutex
	sources := []string{"alpha"}
	require.NoError(t, p.Add(context.Background(), Job{
		Handle: "sq-1",
		Query:  federation.Query{View: "tracks"},
		Target: target,
		Sources: func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), sources...)
		},
	}))
	require.Eventually(t, func() bool { return len(searcher.Requests()) == 1 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	sources = []string{"alpha", "beta"}
	mu.Unlock()
	require.NoError(t, p.RunNow(context.Background(), "sq-1"))

	reqs := searcher.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"alpha"}, reqs[0].Sources)
	assert.Equal(t, []string{"alpha", "beta"}, reqs[1].Sources)
}

func TestPoller_PausedTargetResumesOnWake(t *testing.T) {
	searcher := &scriptedSearcher{responses: []federation.Response{{Results: results("a"), Hits: 1}}}
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Observer: obs})
	target := newTarget(t, standing.Config{})
	target.Pause()

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusSkipped, obs.Statuses()[0])
	assert.Empty(t, searcher.Requests())

	target.Resume()
	require.Eventually(t, func() bool { return target.Size() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPoller_ExpiredLifespanRemovesJob(t *testing.T) {
	clock := newFakeClock()
	var expired atomic.Value
	p := newTestPoller(t, Config{
		Searcher:  &scriptedSearcher{},
		Clock:     clock.Now,
		OnExpired: func(handle string) { expired.Store(handle) },
	})
	target := newTarget(t, standing.Config{
		Clock:    clock.Now,
		Lifespan: standing.Lifespan{Stop: clock.Now().Add(-time.Second)},
	})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	require.Eventually(t, func() bool { return expired.Load() == "sq-1" }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, p.Scheduled("sq-1"))
}

func TestPoller_FutureStartDelaysFirstCycle(t *testing.T) {
	clock := newFakeClock()
	searcher := &scriptedSearcher{}
	p := newTestPoller(t, Config{Searcher: searcher, Clock: clock.Now})
	target := newTarget(t, standing.Config{
		Clock:    clock.Now,
		Lifespan: standing.LifespanFromNow(clock.Now(), time.Hour, 0),
	})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))

	next, ok := target.NextExecution()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(DefaultMaxWaitToStart), next, "first run waits at most the start ceiling")
	assert.Empty(t, searcher.Requests())
}

func TestPoller_CanceledTargetIsUnscheduled(t *testing.T) {
	p := newTestPoller(t, Config{Searcher: &scriptedSearcher{}})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	require.True(t, p.Scheduled("sq-1"))

	target.Cancel()
	require.Eventually(t, func() bool { return !p.Scheduled("sq-1") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, p.Remove(context.Background(), "sq-1"))
	assert.Error(t, p.RunNow(context.Background(), "sq-1"))
}

func TestPoller_FailedSearchIsRecorded(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	searcher := &scriptedSearcher{err: errors.New("catalog offline")}
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Store: store, Observer: obs})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(ctx, Job{Handle: "sq-1", Query: federation.Query{View: "tracks", Expression: "ship"}, Target: target}))
	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		history, err := store.History(ctx, "sq-1", 10)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	history, err := store.History(ctx, "sq-1", 10)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, history[0].Status)
	assert.Contains(t, history[0].Error, "catalog offline")

	stats, err := store.Stats(ctx, "sq-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, "ship", stats.Expression)
}

func TestPoller_StopWaitsForSupervisors(t *testing.T) {
	p, err := New(Config{Searcher: &scriptedSearcher{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	p.Start()

	for i := range 5 {
		target := newTarget(t, standing.Config{})
		require.NoError(t, p.Add(context.Background(), Job{
			Handle: fmt.Sprintf("sq-%d", i),
			Query:  federation.Query{View: "tracks"},
			Target: target,
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.Scheduled("sq-0"))
}

func TestPoller_PauseDuringSearchDropsPage(t *testing.T) {
	searcher := newBlockingSearcher(federation.Response{Results: results("a"), Hits: 1})
	obs := &recordingObserver{}
	p := newTestPoller(t, Config{Searcher: searcher, Observer: obs})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	searcher.waitStarted(t)

	target.Pause()
	close(searcher.release)

	require.Eventually(t, func() bool { return len(obs.Statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusSkipped, obs.Statuses()[0])
	assert.Zero(t, target.Size(), "a page arriving after Pause must not be appended")
	assert.Zero(t, target.IntervalCount())
}

func TestPoller_StopInterruptsSearchInFlight(t *testing.T) {
	searcher := newBlockingSearcher(federation.Response{})
	obs := &recordingObserver{}
	p, err := New(Config{Searcher: searcher, Observer: obs, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	p.Start()
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	searcher.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	require.NoError(t, p.Stop(ctx))
	assert.Less(t, time.Since(begin), time.Second)

	select {
	case <-searcher.interrupted:
	default:
		t.Fatal("search context was not canceled")
	}
	assert.Empty(t, obs.Statuses(), "an interrupted cycle is not reported")
}

func TestPoller_RemoveInterruptsSearchInFlight(t *testing.T) {
	searcher := newBlockingSearcher(federation.Response{})
	p := newTestPoller(t, Config{Searcher: searcher})
	target := newTarget(t, standing.Config{})

	require.NoError(t, p.Add(context.Background(), Job{Handle: "sq-1", Query: federation.Query{View: "tracks"}, Target: target}))
	searcher.waitStarted(t)

	require.True(t, p.Remove(context.Background(), "sq-1"))
	select {
	case <-searcher.interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("search context was not canceled by Remove")
	}
}
