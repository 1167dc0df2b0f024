// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/pkg/gateway"
	"github.com/teradata-labs/sqgate/pkg/standing"
)

// EventResultsAvailable is the SSE event name published after a poll cycle leaves
// records in a standing query's buffer.
const EventResultsAvailable = "results_available"

// Events publishes results-available notifications of subscribed standing queries as
// server-sent events, one stream per handle.
type Events struct {
	server *sse.Server
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]string // handle -> callback id
}

// eventPayload is the JSON data of a results-available event.
type eventPayload struct {
	Handle  string `json:"handle"`
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// NewEvents creates an event publisher.
func NewEvents(logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := sse.New()
	server.AutoStream = false
	server.AutoReplay = false
	return &Events{
		server: server,
		logger: logger,
		subs:   make(map[string]string),
	}
}

// Subscribe creates the stream of handle and registers a callback feeding it.
// Subscribing twice is a no-op.
func (e *Events) Subscribe(svc *gateway.Service, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[handle]; ok {
		return nil
	}

	e.server.CreateStream(handle)
	callbackID, err := svc.RegisterCallback(handle, standing.CallbackFunc(e.publish))
	if err != nil {
		e.server.RemoveStream(handle)
		return err
	}
	e.subs[handle] = callbackID
	e.logger.Debug("Event stream created", zap.String("handle", handle))
	return nil
}

// Unsubscribe closes the stream of handle. The callback dies with the handle.
func (e *Events) Unsubscribe(handle string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[handle]; !ok {
		return
	}
	delete(e.subs, handle)
	e.server.RemoveStream(handle)
	e.logger.Debug("Event stream removed", zap.String("handle", handle))
}

// Subscribed reports whether handle has a stream.
func (e *Events) Subscribed(handle string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subs[handle]
	return ok
}

func (e *Events) publish(_ context.Context, ev standing.Event) error {
	data, err := json.Marshal(eventPayload{
		Handle:  ev.Handle,
		Status:  ev.Status.String(),
		Pending: ev.Pending,
	})
	if err != nil {
		return err
	}
	e.server.Publish(ev.Handle, &sse.Event{
		Event: []byte(EventResultsAvailable),
		Data:  data,
	})
	return nil
}

// ServeHTTP serves /v1/events?stream=<handle>.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.server.ServeHTTP(w, r)
}

// Close closes every stream.
func (e *Events) Close() {
	e.mu.Lock()
	e.subs = make(map[string]string)
	e.mu.Unlock()
	e.server.Close()
}
