// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/sqgate/pkg/convert"
	"github.com/teradata-labs/sqgate/pkg/drain"
	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/handles"
	"github.com/teradata-labs/sqgate/pkg/metrics"
	"github.com/teradata-labs/sqgate/pkg/poller"
	"github.com/teradata-labs/sqgate/pkg/standing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	svc   *Service
	fed   *federation.Federator
	local *federation.MemorySource
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fed := federation.NewFederator(federation.Config{Logger: logger})
	local := federation.NewMemorySource(federation.LocalSourceID)
	fed.Register(local)

	cfg := Config{
		Searcher: fed,
		Poller:   poller.Config{Interval: time.Hour},
		Metrics:  metrics.New(nil),
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := New(cfg)
	require.NoError(t, err)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &testEnv{svc: svc, fed: fed, local: local}
}

// tracks builds n records modified one second apart starting at base.
func tracks(n int, prefix string, base time.Time) []federation.Result {
	out := make([]federation.Result, 0, n)
	for i := range n {
		out = append(out, federation.Result{
			ID:         fmt.Sprintf("%s-%03d", prefix, i),
			Title:      "ship track",
			Modified:   base.Add(time.Duration(i) * time.Second),
			Attributes: map[string]any{"classification": "U", "speed": i},
		})
	}
	return out
}

func waitPending(t *testing.T, svc *Service, id string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := svc.Pending(id)
		return err == nil && n == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_RequiresSearcher(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSubmitStandingQuery_InvalidQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.SubmitStandingQuery(context.Background(), StandingQueryRequest{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = env.svc.SubmitStandingQuery(context.Background(), StandingQueryRequest{Query: &federation.Query{}})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = env.svc.SubmitQuery(context.Background(), QueryRequest{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	assert.Empty(t, env.svc.ActiveRequests(""))
}

func TestStandingQuery_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(5, "trk", time.Now().Add(-time.Hour))...)
	ctx := context.Background()

	id, err := env.svc.SubmitStandingQuery(ctx, StandingQueryRequest{
		Query:            &federation.Query{View: "tracks", Expression: "ship"},
		User:             "analyst",
		ResultAttributes: []string{"speed"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, env.svc.ActiveRequests(KindStanding))

	waitPending(t, env.svc, id, 5)

	status, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, standing.StatusResultsAvailable, status)

	intervals, err := env.svc.IntervalCount(id)
	require.NoError(t, err)
	assert.Equal(t, 1, intervals)

	hits, err := env.svc.HitsInInterval(id, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, hits)

	records, err := env.svc.Drain(ctx, id, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "trk-000", records[0].Fields[convert.FieldID].GetStringValue())
	assert.Equal(t, 0.0, records[0].Fields["speed"].GetNumberValue())
	assert.NotContains(t, records[0].Fields, "classification", "projection drops unrequested attributes")

	rest, err := env.svc.Drain(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Equal(t, "trk-003", rest[0].Fields[convert.FieldID].GetStringValue())

	last, ok, err := env.svc.LastExecuted(id)
	require.NoError(t, err)
	require.True(t, ok)
	next, ok, err := env.svc.NextExecution(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, next.Sub(last).Round(time.Hour))

	desc, err := env.svc.Description(id)
	require.NoError(t, err)
	assert.Contains(t, desc, "analyst")
	assert.Contains(t, desc, id)

	require.NoError(t, env.svc.Cancel(ctx, id))

	_, err = env.svc.Drain(ctx, id, 1)
	assert.ErrorIs(t, err, handles.ErrNotFound)
	assert.ErrorIs(t, env.svc.Cancel(ctx, id), handles.ErrNotFound)
	assert.Empty(t, env.svc.ActiveRequests(""))
}

func TestStandingQuery_HitCapAndClears(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(4, "a", time.Now().Add(-time.Hour))...)
	ctx := context.Background()

	id, err := env.svc.SubmitStandingQuery(ctx, StandingQueryRequest{
		Query:  &federation.Query{View: "tracks"},
		HitCap: drain.LimitOf(0),
	})
	require.NoError(t, err)
	waitPending(t, env.svc, id, 4)

	records, err := env.svc.Drain(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, env.svc.SetHitCap(id, drain.LimitOf(1)))
	records, err = env.svc.Drain(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, env.svc.ClearOldestIntervals(id, 1))
	waitPending(t, env.svc, id, 0)

	env.local.Put(tracks(2, "b", time.Now().Add(time.Hour))...)
	require.NoError(t, env.svc.RunNow(ctx, id))
	waitPending(t, env.svc, id, 2)

	require.NoError(t, env.svc.ClearOlderThan(id, time.Hour))
	waitPending(t, env.svc, id, 2)

	require.NoError(t, env.svc.ClearAll(id))
	waitPending(t, env.svc, id, 0)
}

func TestStandingQuery_PauseResume(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	id, err := env.svc.SubmitStandingQuery(ctx, StandingQueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok, err := env.svc.LastExecuted(id)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.svc.Pause(id))
	status, err := env.svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, standing.StatusSuspended, status)

	env.local.Put(tracks(3, "late", time.Now().Add(time.Hour))...)
	require.NoError(t, env.svc.RunNow(ctx, id))
	n, err := env.svc.Pending(id)
	require.NoError(t, err)
	assert.Zero(t, n, "paused queries do not collect")

	require.NoError(t, env.svc.Resume(id))
	waitPending(t, env.svc, id, 3)
}

func TestStandingQuery_CallbackNotified(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(2, "cb", time.Now().Add(-time.Hour))...)

	var events atomic.Int32
	var pending atomic.Int32
	id, err := env.svc.SubmitStandingQuery(context.Background(), StandingQueryRequest{
		Query: &federation.Query{View: "tracks"},
		Callback: standing.CallbackFunc(func(ctx context.Context, ev standing.Event) error {
			pending.Store(int32(ev.Pending))
			events.Add(1)
			return nil
		}),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return events.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), pending.Load())

	cbID, err := env.svc.RegisterCallback(id, standing.CallbackFunc(func(context.Context, standing.Event) error {
		return errors.New("client gone")
	}))
	require.NoError(t, err)

	freed, err := env.svc.FreeCallback(id, cbID)
	require.NoError(t, err)
	assert.True(t, freed)
}

func TestStandingQuery_LifespanExpiryReleasesHandle(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Poller.Interval = 20 * time.Millisecond
	})

	id, err := env.svc.SubmitStandingQuery(context.Background(), StandingQueryRequest{
		Query:  &federation.Query{View: "tracks"},
		RunFor: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := env.svc.Status(id)
		return errors.Is(err, handles.ErrNotFound)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOneShot_CompleteAdvancesOffset(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(5, "os", time.Now().Add(-time.Hour))...)
	ctx := context.Background()

	id, err := env.svc.SubmitQuery(ctx, QueryRequest{
		Query:  &federation.Query{View: "tracks"},
		HitCap: drain.LimitOf(2),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, env.svc.ActiveRequests(KindOneShot))

	var ids []string
	for range 3 {
		records, err := env.svc.Complete(ctx, id)
		require.NoError(t, err)
		for _, r := range records {
			ids = append(ids, r.Fields[convert.FieldID].GetStringValue())
		}
	}
	assert.Equal(t, []string{"os-000", "os-001", "os-002", "os-003", "os-004"}, ids)

	records, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = env.svc.Drain(ctx, id, 1)
	assert.ErrorIs(t, err, handles.ErrKindMismatch)

	require.NoError(t, env.svc.Cancel(ctx, id))
	_, err = env.svc.Complete(ctx, id)
	assert.ErrorIs(t, err, handles.ErrNotFound)
}

func TestOneShot_ZeroCapReturnsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(3, "z", time.Now().Add(-time.Hour))...)
	ctx := context.Background()

	id, err := env.svc.SubmitQuery(ctx, QueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)
	require.NoError(t, env.svc.SetHitCap(id, drain.LimitOf(0)))

	records, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, env.svc.SetHitCap(id, drain.Unbounded()))
	records, err = env.svc.Complete(ctx, id)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestOneShot_ValidationSkipsRecords(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Converter = convert.New(convert.Config{
			OutgoingValidation:  true,
			MandatoryAttributes: []string{"classification"},
		})
	})
	env.local.Put(
		federation.Result{ID: "ok", Attributes: map[string]any{"classification": "U"}},
		federation.Result{ID: "bad"},
	)
	ctx := context.Background()

	id, err := env.svc.SubmitQuery(ctx, QueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)

	records, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Fields[convert.FieldID].GetStringValue())
}

func TestQuerySources(t *testing.T) {
	env := newTestEnv(t, nil)
	remote := federation.NewMemorySource("remote")
	remote.Put(federation.Result{ID: "r-1", Title: "remote track"})
	env.fed.Register(remote)
	env.local.Put(federation.Result{ID: "l-1", Title: "local track"})
	ctx := context.Background()

	assert.Empty(t, env.svc.QuerySources())
	assert.ErrorIs(t, env.svc.AddQuerySource("nowhere"), federation.ErrUnknownSource)
	require.NoError(t, env.svc.AddQuerySource("remote"))
	assert.Equal(t, []string{"remote"}, env.svc.QuerySources())

	id, err := env.svc.SubmitQuery(ctx, QueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)
	records, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r-1", records[0].Fields[convert.FieldID].GetStringValue())

	assert.True(t, env.svc.RemoveQuerySource("remote"))
	assert.False(t, env.svc.RemoveQuerySource("remote"))

	id, err = env.svc.SubmitQuery(ctx, QueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)
	records, err = env.svc.Complete(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "l-1", records[0].Fields[convert.FieldID].GetStringValue())
}

func TestIdleHandlesAreEvicted(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.IdleTimeout = 50 * time.Millisecond
		cfg.JanitorInterval = 10 * time.Millisecond
	})

	id, err := env.svc.SubmitQuery(context.Background(), QueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.svc.ActiveRequests("")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.svc.Complete(context.Background(), id)
	assert.ErrorIs(t, err, handles.ErrNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	store, err := poller.NewStore(ctx, filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Poller.Store = store
	})

	id, err := env.svc.SubmitStandingQuery(ctx, StandingQueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, err := env.svc.History(ctx, id, 10)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env2 := newTestEnv(t, nil)
	_, err = env2.svc.History(ctx, "any", 10)
	assert.Error(t, err)
}

func TestConcurrentDrainsNeverDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.local.Put(tracks(200, "c", time.Now().Add(-time.Hour))...)
	ctx := context.Background()

	id, err := env.svc.SubmitStandingQuery(ctx, StandingQueryRequest{Query: &federation.Query{View: "tracks"}})
	require.NoError(t, err)
	waitPending(t, env.svc, id, 200)

	seen := make(chan string, 200)
	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				records, err := env.svc.Drain(ctx, id, 7)
				if err != nil || len(records) == 0 {
					return
				}
				for _, r := range records {
					seen <- r.Fields[convert.FieldID].GetStringValue()
				}
			}
		}()
	}
	for range 8 {
		<-done
	}
	close(seen)

	unique := make(map[string]struct{})
	for recordID := range seen {
		_, dup := unique[recordID]
		require.False(t, dup, "record %s drained twice", recordID)
		unique[recordID] = struct{}{}
	}
	assert.Len(t, unique, 200)
}
