// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/gateway"
)

// SubmitStandingQuery accepts {view, expression, user, properties, result_attributes,
// start_after, run_for, hit_cap, subscribe} and returns {handle}.
func (g *GatewayServer) SubmitStandingQuery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := standingRequest(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	subscribe := in.GetFields()["subscribe"].GetBoolValue()

	handle, err := g.svc.SubmitStandingQuery(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	if subscribe && g.events != nil {
		if err := g.events.Subscribe(g.svc, handle); err != nil {
			g.logger.Warn("Failed to create event stream", zap.String("handle", handle), zap.Error(err))
		}
	}
	return response(map[string]any{"handle": handle})
}

func standingRequest(ctx context.Context, in *structpb.Struct) (gateway.StandingQueryRequest, error) {
	var req gateway.StandingQueryRequest
	var err error

	if req.Query, err = queryFrom(in); err != nil {
		return req, err
	}
	if req.User, err = userFrom(ctx, in); err != nil {
		return req, err
	}
	if req.Properties, err = stringMap(in, "properties"); err != nil {
		return req, err
	}
	if req.ResultAttributes, err = stringList(in, "result_attributes"); err != nil {
		return req, err
	}
	if req.StartAfter, err = optionalDuration(in, "start_after"); err != nil {
		return req, err
	}
	if req.RunFor, err = optionalDuration(in, "run_for"); err != nil {
		return req, err
	}
	if req.HitCap, err = hitCap(in); err != nil {
		return req, err
	}
	return req, nil
}

// SubmitQuery accepts {view, expression, user, result_attributes, hit_cap} and returns
// {handle}.
func (g *GatewayServer) SubmitQuery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gateway.QueryRequest
	var err error

	if req.Query, err = queryFrom(in); err != nil {
		return nil, toStatus(err)
	}
	if req.User, err = userFrom(ctx, in); err != nil {
		return nil, toStatus(err)
	}
	if req.ResultAttributes, err = stringList(in, "result_attributes"); err != nil {
		return nil, toStatus(err)
	}
	if req.HitCap, err = hitCap(in); err != nil {
		return nil, toStatus(err)
	}

	handle, err := g.svc.SubmitQuery(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"handle": handle})
}

// Complete returns {records} for a one-shot handle.
func (g *GatewayServer) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	records, err := g.svc.Complete(ctx, handle)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"records": recordList(records)}}, nil
}

// Drain accepts {handle, max} and returns {records}.
func (g *GatewayServer) Drain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	maxRecords, err := requireInt(in, "max")
	if err != nil {
		return nil, toStatus(err)
	}
	records, err := g.svc.Drain(ctx, handle, maxRecords)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"records": recordList(records)}}, nil
}

// SetHitCap accepts {handle, hit_cap}. An absent or negative hit_cap removes the cap.
func (g *GatewayServer) SetHitCap(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	limit, err := hitCap(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := g.svc.SetHitCap(handle, limit); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// handleOp runs op with the request's handle and returns an empty reply.
func handleOp(in *structpb.Struct, op func(handle string) error) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := op(handle); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

func (g *GatewayServer) Pause(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handleOp(in, g.svc.Pause)
}

func (g *GatewayServer) Resume(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handleOp(in, g.svc.Resume)
}

func (g *GatewayServer) RunNow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handleOp(in, func(handle string) error { return g.svc.RunNow(ctx, handle) })
}

func (g *GatewayServer) ClearAll(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handleOp(in, g.svc.ClearAll)
}

// ClearOldestIntervals accepts {handle, count}.
func (g *GatewayServer) ClearOldestIntervals(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	count, err := requireInt(in, "count")
	if err != nil {
		return nil, toStatus(err)
	}
	return handleOp(in, func(handle string) error { return g.svc.ClearOldestIntervals(handle, count) })
}

// ClearOlderThan accepts {handle, max_age} with max_age a duration string.
func (g *GatewayServer) ClearOlderThan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := field(in, "max_age"); !ok {
		return nil, toStatus(badRequest("max_age is required"))
	}
	maxAge, err := optionalDuration(in, "max_age")
	if err != nil {
		return nil, toStatus(err)
	}
	return handleOp(in, func(handle string) error { return g.svc.ClearOlderThan(handle, maxAge) })
}

// IntervalCount returns {count}.
func (g *GatewayServer) IntervalCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	n, err := g.svc.IntervalCount(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"count": n})
}

// HitsInInterval accepts {handle, index} and returns {hits}.
func (g *GatewayServer) HitsInInterval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	index, err := requireInt(in, "index")
	if err != nil {
		return nil, toStatus(err)
	}
	n, err := g.svc.HitsInInterval(handle, index)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"hits": n})
}

// GetStatus returns {status, pending, intervals, oldest_interval, newest_interval,
// last_executed, next_execution, remaining_delay}. Unknown timestamps are null.
func (g *GatewayServer) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}

	st, err := g.svc.Status(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	buffered, err := g.svc.Buffered(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	last, lastOK, err := g.svc.LastExecuted(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	next, nextOK, err := g.svc.NextExecution(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	delay, err := g.svc.RemainingDelay(handle)
	if err != nil {
		return nil, toStatus(err)
	}

	return response(map[string]any{
		"status":          st.String(),
		"pending":         buffered.Total,
		"intervals":       buffered.Intervals,
		"oldest_interval": timestamp(buffered.Oldest, buffered.Intervals > 0),
		"newest_interval": timestamp(buffered.Newest, buffered.Intervals > 0),
		"last_executed":   timestamp(last, lastOK),
		"next_execution":  timestamp(next, nextOK),
		"remaining_delay": delay.String(),
		"subscribed":      g.events != nil && g.events.Subscribed(handle),
	})
}

// Describe returns {description}.
func (g *GatewayServer) Describe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	desc, err := g.svc.Description(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"description": desc})
}

// History accepts {handle, limit} and returns {executions}.
func (g *GatewayServer) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	limit, _, err := optionalInt(in, "limit")
	if err != nil {
		return nil, toStatus(err)
	}
	executions, err := g.svc.History(ctx, handle, limit)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}

	items := make([]any, 0, len(executions))
	for _, exec := range executions {
		items = append(items, map[string]any{
			"execution_id": exec.ExecutionID,
			"started_at":   timestamp(exec.StartedAt, true),
			"status":       exec.Status,
			"error":        exec.Error,
			"records":      exec.Records,
			"duration":     exec.Duration.String(),
		})
	}
	return response(map[string]any{"executions": items})
}

// Subscribe creates the SSE stream of a standing query and returns {stream, path}.
func (g *GatewayServer) Subscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if g.events == nil {
		return nil, status.Error(codes.Unimplemented, "event streams are disabled")
	}
	handle, err := requireString(in, "handle")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := g.events.Subscribe(g.svc, handle); err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{
		"stream": handle,
		"path":   fmt.Sprintf("%s?stream=%s", EventsPath, handle),
	})
}

// Cancel releases a handle of either kind.
func (g *GatewayServer) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handleOp(in, func(handle string) error {
		if err := g.svc.Cancel(ctx, handle); err != nil {
			return err
		}
		if g.events != nil {
			g.events.Unsubscribe(handle)
		}
		return nil
	})
}

// ActiveRequests accepts {kind} and returns {handles}.
func (g *GatewayServer) ActiveRequests(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := optionalString(in, "kind")
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"handles": stringsToAny(g.svc.ActiveRequests(kind))})
}

// QuerySources returns {sources}. An empty list means the local source only.
func (g *GatewayServer) QuerySources(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return response(map[string]any{"sources": stringsToAny(g.svc.QuerySources())})
}

// AddQuerySource accepts {source}.
func (g *GatewayServer) AddQuerySource(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	source, err := requireString(in, "source")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := g.svc.AddQuerySource(source); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// RemoveQuerySource accepts {source} and returns {removed}.
func (g *GatewayServer) RemoveQuerySource(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	source, err := requireString(in, "source")
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"removed": g.svc.RemoveQuerySource(source)})
}
