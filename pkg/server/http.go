// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/sqgate/internal/version"
	"github.com/teradata-labs/sqgate/pkg/metrics"
)

// HTTP paths.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
	EventsPath  = "/v1/events"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// HTTPServer serves health, metrics and result-available event streams next to the
// gRPC server.
type HTTPServer struct {
	httpServer *http.Server
	logger     *zap.Logger
	corsConfig CORSConfig
	metrics    *metrics.Metrics
	events     *Events
	started    time.Time
}

// NewHTTPServer creates the HTTP side channel. metrics and events may be nil.
func NewHTTPServer(addr string, m *metrics.Metrics, events *Events, corsConfig CORSConfig, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPServer{
		logger:     logger,
		corsConfig: corsConfig,
		metrics:    m,
		events:     events,
		started:    time.Now(),
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // No timeout for SSE
			IdleTimeout:  120 * time.Second,
		},
	}
	h.httpServer.Handler = h.Handler()
	return h
}

// Handler returns the routed handler, CORS applied when enabled.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, h.handleHealth)
	if h.metrics != nil {
		mux.Handle(MetricsPath, h.metrics.Handler())
	}
	if h.events != nil {
		mux.Handle(EventsPath, h.events)
	}

	if !h.corsConfig.Enabled {
		return mux
	}
	return h.corsMiddleware(mux)
}

// Serve serves on lis until Stop.
func (h *HTTPServer) Serve(lis net.Listener) error {
	h.logger.Info("Starting HTTP server", zap.String("addr", lis.Addr().String()))
	if err := h.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until Stop.
func (h *HTTPServer) Start() error {
	lis, err := net.Listen("tcp", h.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.httpServer.Addr, err)
	}
	return h.Serve(lis)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server")
	if h.events != nil {
		// SSE connections never go idle, so close the streams before shutting down.
		h.events.Close()
	}
	return h.httpServer.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version.Get(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// corsMiddleware adds CORS headers to HTTP responses
func (h *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowedOrigin := h.getAllowedOrigin(r.Header.Get("Origin")); allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}
		if h.corsConfig.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(h.corsConfig.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(h.corsConfig.AllowedMethods, ", "))
		}
		if len(h.corsConfig.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(h.corsConfig.AllowedHeaders, ", "))
		}
		if len(h.corsConfig.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(h.corsConfig.ExposedHeaders, ", "))
		}
		if h.corsConfig.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", h.corsConfig.MaxAge))
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getAllowedOrigin checks if the origin is allowed and returns it, or empty string if not
func (h *HTTPServer) getAllowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range h.corsConfig.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}
