// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package drain caps how many records a single retrieval returns.
//
// Limit distinguishes "no cap" from a cap of zero explicitly, so a client asking for
// zero hits gets nothing back instead of everything. Apply is the one-shot query path:
// it converts an already-computed result list lazily and stops as soon as the cap is met.
package drain

import (
	"context"
	"strconv"
)

// Limit is an optional upper bound on records returned. The zero value is unbounded.
type Limit struct {
	n   int
	set bool
}

// Unbounded returns a limit that never caps.
func Unbounded() Limit {
	return Limit{}
}

// LimitOf returns a cap of n records. Negative n is treated as unbounded.
func LimitOf(n int) Limit {
	if n < 0 {
		return Unbounded()
	}
	return Limit{n: n, set: true}
}

// IsSet reports whether the limit caps anything.
func (l Limit) IsSet() bool {
	return l.set
}

// Value returns the cap and whether one is set.
func (l Limit) Value() (int, bool) {
	return l.n, l.set
}

// Bound returns min(requested, cap) when a cap is set, otherwise requested.
func (l Limit) Bound(requested int) int {
	if !l.set {
		return requested
	}
	return min(requested, l.n)
}

// String renders the limit for logs.
func (l Limit) String() string {
	if !l.set {
		return "unbounded"
	}
	return strconv.Itoa(l.n)
}

// Apply converts results in order until limit converted records have been collected.
// A record whose conversion fails is passed to onSkip (which may be nil), dropped, and
// not counted against the limit. Conversion stops early when ctx is done; whatever was
// collected so far is returned.
func Apply[S, R any](ctx context.Context, results []S, limit Limit, convert func(S) (R, error), onSkip func(S, error)) []R {
	capacity := limit.Bound(len(results))
	out := make([]R, 0, max(capacity, 0))
	if capacity <= 0 {
		return out
	}

	for _, result := range results {
		if len(out) >= capacity {
			break
		}
		if ctx.Err() != nil {
			break
		}

		converted, err := convert(result)
		if err != nil {
			if onSkip != nil {
				onSkip(result, err)
			}
			continue
		}
		out = append(out, converted)
	}
	return out
}
