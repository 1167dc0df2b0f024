// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package standing coordinates the lifecycle of one standing query: the buffer its
// poller appends to, the client's hit cap, pause and resume, schedule introspection and
// result-available callbacks.
package standing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/pkg/buffer"
	"github.com/teradata-labs/sqgate/pkg/drain"
)

// Config describes a standing query at submission time.
type Config struct {
	User       string
	Properties map[string]string
	Lifespan   Lifespan
	HitCap     drain.Limit
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Controller owns one standing query's buffer. All methods are safe for concurrent use.
type Controller[R any] struct {
	buf    *buffer.Buffer[R]
	logger *zap.Logger
	now    func() time.Time

	user       string
	properties map[string]string
	lifespan   Lifespan

	mu            sync.Mutex
	handle        string
	hitCap        drain.Limit
	paused        bool
	canceled      bool
	lastExecuted  time.Time
	nextExecution time.Time
	callbacks     map[string]Callback

	wake chan struct{}
	done chan struct{}
}

// New creates a controller with an empty buffer.
func New[R any](cfg Config) *Controller[R] {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Controller[R]{
		buf:        buffer.New[R](buffer.WithClock(cfg.Clock)),
		logger:     cfg.Logger,
		now:        cfg.Clock,
		user:       cfg.User,
		properties: maps.Clone(cfg.Properties),
		lifespan:   cfg.Lifespan,
		hitCap:     cfg.HitCap,
		callbacks:  make(map[string]Callback),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SetHandle records the handle the controller was bound under, for descriptions and
// callback events.
func (c *Controller[R]) SetHandle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = id
	c.logger = c.logger.With(zap.String("handle", id))
}

// SetHitCap bounds how many records a single Drain returns.
func (c *Controller[R]) SetHitCap(limit drain.Limit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hitCap = limit
}

// HitCap returns the current cap.
func (c *Controller[R]) HitCap() drain.Limit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitCap
}

// Pause stops the producer from appending. Held records stay drainable.
func (c *Controller[R]) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume clears the pause flag and wakes a sleeping producer.
func (c *Controller[R]) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether the query is paused.
func (c *Controller[R]) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Wake is signalled by Resume.
func (c *Controller[R]) Wake() <-chan struct{} {
	return c.wake
}

// Done is closed by Cancel.
func (c *Controller[R]) Done() <-chan struct{} {
	return c.done
}

// Cancel marks the query dead, drops its records and callbacks. Idempotent.
func (c *Controller[R]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return
	}
	c.canceled = true
	clear(c.callbacks)
	c.buf.ClearAll()
	close(c.done)
	c.logger.Debug("Standing query canceled")
}

// Canceled reports whether Cancel has been called.
func (c *Controller[R]) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// Accepting reports whether the producer may append at now: not paused, not canceled
// and within the lifespan.
func (c *Controller[R]) Accepting(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.paused && !c.canceled && c.lifespan.Started(now) && !c.lifespan.Expired(now)
}

// Lifespan returns the query's active window.
func (c *Controller[R]) Lifespan() Lifespan {
	return c.lifespan
}

// Append adds one page of a poll cycle as a new interval. Appends while paused or after
// Cancel are dropped and return false.
func (c *Controller[R]) Append(records []R) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.canceled {
		return false
	}
	c.buf.Append(buffer.Batch[R]{Records: records})
	return true
}

// Drain removes up to min(requested, hit cap) records, oldest first. A cap of zero
// returns nothing and leaves the buffer untouched.
func (c *Controller[R]) Drain(requested int) []R {
	effective := c.HitCap().Bound(requested)
	if effective <= 0 {
		return []R{}
	}
	return c.buf.Drain(effective)
}

// ClearAll drops every held record.
func (c *Controller[R]) ClearAll() { c.buf.ClearAll() }

// ClearOldestIntervals drops the n oldest poll cycles.
func (c *Controller[R]) ClearOldestIntervals(n int) { c.buf.ClearOldestIntervals(n) }

// ClearOlderThan drops cycles produced more than maxAge ago.
func (c *Controller[R]) ClearOlderThan(maxAge time.Duration) { c.buf.ClearOlderThan(maxAge) }

// IntervalCount returns the number of held poll cycles.
func (c *Controller[R]) IntervalCount() int { return c.buf.IntervalCount() }

// HitsInInterval returns the record count of cycle i, 0 when out of range.
func (c *Controller[R]) HitsInInterval(i int) int { return c.buf.HitsInInterval(i) }

// Size returns the number of held records.
func (c *Controller[R]) Size() int { return c.buf.Size() }

// Stats returns the buffer shape: interval count, held records and the production
// times of the oldest and newest intervals.
func (c *Controller[R]) Stats() buffer.Stats { return c.buf.Snapshot() }

// RecordExecution stores the advisory schedule timestamps reported by the poller.
func (c *Controller[R]) RecordExecution(last, next time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastExecuted = last
	c.nextExecution = next
}

// LastExecuted returns when the poller last ran; false until the first run.
func (c *Controller[R]) LastExecuted() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastExecuted, !c.lastExecuted.IsZero()
}

// NextExecution returns when the poller will run next; false until scheduled.
func (c *Controller[R]) NextExecution() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextExecution, !c.nextExecution.IsZero()
}

// RemainingDelay returns the time until the next execution, or 0 when unknown or due.
func (c *Controller[R]) RemainingDelay(now time.Time) time.Duration {
	next, ok := c.NextExecution()
	if !ok {
		return 0
	}
	return max(next.Sub(now), 0)
}

// Status reports the query state. Canceled wins over Suspended, which wins over
// ResultsAvailable.
func (c *Controller[R]) Status() Status {
	c.mu.Lock()
	canceled, paused := c.canceled, c.paused
	c.mu.Unlock()

	switch {
	case canceled:
		return StatusCanceled
	case paused:
		return StatusSuspended
	case c.buf.Size() > 0:
		return StatusResultsAvailable
	default:
		return StatusPending
	}
}

// RegisterCallback adds cb to the result-available notifications and returns its id.
func (c *Controller[R]) RegisterCallback(cb Callback) (string, error) {
	if cb == nil {
		return "", fmt.Errorf("callback is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return "", fmt.Errorf("standing query %s is canceled", c.handle)
	}
	id := uuid.NewString()
	c.callbacks[id] = cb
	return id, nil
}

// FreeCallback removes a callback. Returns false when id is unknown.
func (c *Controller[R]) FreeCallback(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.callbacks[id]; !ok {
		return false
	}
	delete(c.callbacks, id)
	return true
}

// CallbackIDs lists registered callbacks, sorted.
func (c *Controller[R]) CallbackIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.callbacks))
}

// NotifyResultsAvailable invokes every callback with the current status. A callback that
// fails is logged and freed. Returns the number of callbacks that succeeded.
func (c *Controller[R]) NotifyResultsAvailable(ctx context.Context) int {
	c.mu.Lock()
	handle, logger := c.handle, c.logger
	targets := maps.Clone(c.callbacks)
	c.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	event := Event{Handle: handle, Status: c.Status(), Pending: c.buf.Size()}
	notified := 0
	for id, cb := range targets {
		if err := cb.Notify(ctx, event); err != nil {
			logger.Warn("Callback failed, freeing it",
				zap.String("callback_id", id),
				zap.Error(err))
			c.FreeCallback(id)
			continue
		}
		notified++
	}
	return notified
}

// Description summarizes the query for display.
func (c *Controller[R]) Description() string {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Standing Query %s", c.user, handle)
	if !c.lifespan.Start.IsZero() || !c.lifespan.Stop.IsZero() {
		fmt.Fprintf(&sb, " (%s)", c.lifespan)
	}
	for _, k := range slices.Sorted(maps.Keys(c.properties)) {
		fmt.Fprintf(&sb, " %s=%s", k, c.properties[k])
	}
	return sb.String()
}
