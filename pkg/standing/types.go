// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package standing

import (
	"context"
	"fmt"
	"time"
)

// Status is the coarse state of a standing query.
type Status int

const (
	StatusPending Status = iota
	StatusResultsAvailable
	StatusSuspended
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusResultsAvailable:
		return "RESULTS_AVAILABLE"
	case StatusSuspended:
		return "SUSPENDED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Lifespan is the window in which a standing query runs. A zero Start means immediately,
// a zero Stop means forever.
type Lifespan struct {
	Start time.Time
	Stop  time.Time
}

// LifespanFromNow builds a lifespan relative to now. Zero or negative durations leave
// the matching bound open.
func LifespanFromNow(now time.Time, startAfter, runFor time.Duration) Lifespan {
	var l Lifespan
	startAfter = max(startAfter, 0)
	if startAfter > 0 {
		l.Start = now.Add(startAfter)
	}
	if runFor > 0 {
		l.Stop = now.Add(startAfter + runFor)
	}
	return l
}

// Started reports whether now is at or after Start.
func (l Lifespan) Started(now time.Time) bool {
	return l.Start.IsZero() || !now.Before(l.Start)
}

// Expired reports whether now is after Stop.
func (l Lifespan) Expired(now time.Time) bool {
	return !l.Stop.IsZero() && now.After(l.Stop)
}

func (l Lifespan) String() string {
	start, stop := "now", "forever"
	if !l.Start.IsZero() {
		start = l.Start.UTC().Format(time.RFC3339)
	}
	if !l.Stop.IsZero() {
		stop = l.Stop.UTC().Format(time.RFC3339)
	}
	return start + " - " + stop
}

// Event is delivered to callbacks.
type Event struct {
	Handle  string
	Status  Status
	Pending int
}

// Callback receives result-available notifications.
type Callback interface {
	Notify(ctx context.Context, event Event) error
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f CallbackFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
