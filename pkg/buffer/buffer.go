// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package buffer accumulates batches of search results for a standing query and hands
// them back through bounded, destructive drains.
//
// A Buffer holds batches oldest first. Every method runs under a single mutex, so
// appends from the poller, drains from clients, and administrative clears are
// linearizable with respect to each other. The running total always equals the sum of
// the record counts of the held batches.
package buffer

import (
	"sync"
	"time"
)

// Batch is one poll cycle's worth of results, in backend return order.
// The buffer owns a batch once it has been appended; callers must not touch Records
// afterwards.
type Batch[R any] struct {
	Records    []R
	ProducedAt time.Time
}

// Stats is a read-only view of a buffer's shape.
type Stats struct {
	Intervals int
	Total     int
	Oldest    time.Time
	Newest    time.Time
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp batches and evaluate age-based eviction.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Buffer is a windowed FIFO of result batches. The zero value is not usable; use New.
type Buffer[R any] struct {
	mu      sync.Mutex
	batches []*Batch[R]
	total   int
	now     func() time.Time
}

// New creates an empty buffer.
func New[R any](opts ...Option) *Buffer[R] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Buffer[R]{now: o.now}
}

// Size returns the number of records currently held.
func (b *Buffer[R]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Append adds batch at the tail. Empty batches are kept and count as an interval.
// A zero ProducedAt is stamped with the buffer clock.
func (b *Buffer[R]) Append(batch Batch[R]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if batch.ProducedAt.IsZero() {
		batch.ProducedAt = b.now()
	}
	b.batches = append(b.batches, &batch)
	b.total += len(batch.Records)
}

// ClearAll removes every batch.
func (b *Buffer[R]) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = nil
	b.total = 0
}

// ClearOldestIntervals removes the n oldest batches, or all of them when fewer exist.
// n <= 0 is a no-op.
func (b *Buffer[R]) ClearOldestIntervals(n int) {
	if n <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.batches))
	for _, batch := range b.batches[:n] {
		b.total -= len(batch.Records)
	}
	b.batches = compact(b.batches[n:])
}

// ClearOlderThan removes every batch produced before now-maxAge.
func (b *Buffer[R]) ClearOlderThan(maxAge time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-maxAge)
	kept := b.batches[:0]
	for _, batch := range b.batches {
		if batch.ProducedAt.Before(cutoff) {
			b.total -= len(batch.Records)
			continue
		}
		kept = append(kept, batch)
	}
	clear(b.batches[len(kept):])
	b.batches = kept
}

// IntervalCount returns the number of batches held.
func (b *Buffer[R]) IntervalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// HitsInInterval returns the record count of the i-th oldest batch, or 0 when i is out
// of range.
func (b *Buffer[R]) HitsInInterval(i int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.batches) {
		return 0
	}
	return len(b.batches[i].Records)
}

// Drain removes and returns up to maxRecords records, oldest batch first. A batch that is only
// partly consumed keeps its remaining records at the head of the buffer.
// maxRecords <= 0 returns an empty slice and leaves the buffer untouched.
func (b *Buffer[R]) Drain(maxRecords int) []R {
	if maxRecords <= 0 {
		return []R{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total <= maxRecords {
		out := make([]R, 0, b.total)
		for _, batch := range b.batches {
			out = append(out, batch.Records...)
		}
		b.batches = nil
		b.total = 0
		return out
	}

	out := make([]R, 0, maxRecords)
	need := maxRecords
	consumed := 0
	for _, batch := range b.batches {
		if need == 0 {
			break
		}
		if len(batch.Records) <= need {
			out = append(out, batch.Records...)
			need -= len(batch.Records)
			b.total -= len(batch.Records)
			consumed++
			continue
		}

		out = append(out, batch.Records[:need]...)
		remaining := make([]R, len(batch.Records)-need)
		copy(remaining, batch.Records[need:])
		batch.Records = remaining
		b.total -= need
		need = 0
	}
	b.batches = compact(b.batches[consumed:])
	return out
}

// Snapshot reports the current interval count, total and batch time range.
func (b *Buffer[R]) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Intervals: len(b.batches), Total: b.total}
	if len(b.batches) > 0 {
		s.Oldest = b.batches[0].ProducedAt
		s.Newest = b.batches[len(b.batches)-1].ProducedAt
	}
	return s
}

// compact copies the surviving tail into a fresh slice so drained batches can be
// collected.
func compact[R any](tail []*Batch[R]) []*Batch[R] {
	if len(tail) == 0 {
		return nil
	}
	out := make([]*Batch[R], len(tail))
	copy(out, tail)
	return out
}
