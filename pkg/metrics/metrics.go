// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sqgate"

// Metrics groups the gateway collectors on one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollCycles     *prometheus.CounterVec
	pollRecords    prometheus.Counter
	pollDuration   prometheus.Histogram
	submissions    *prometheus.CounterVec
	drainedRecords *prometheus.CounterVec
	activeHandles  *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry carrying the
// Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Standing query poll cycles by outcome",
		}, []string{"status"}),
		pollRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_records_total",
			Help:      "Records appended to standing query buffers",
		}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of standing query poll cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submitted queries by kind",
		}, []string{"kind"}),
		drainedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drained_records_total",
			Help:      "Records returned to clients by handle kind",
		}, []string{"kind"}),
		activeHandles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_handles",
			Help:      "Live handles by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(status string, records int, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(status).Inc()
	m.pollRecords.Add(float64(records))
	m.pollDuration.Observe(duration.Seconds())
}

// ObserveSubmit counts a submission of kind.
func (m *Metrics) ObserveSubmit(kind string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind).Inc()
}

// ObserveDrain counts records returned from a handle of kind.
func (m *Metrics) ObserveDrain(kind string, records int) {
	if m == nil {
		return
	}
	m.drainedRecords.WithLabelValues(kind).Add(float64(records))
}

// HandleBound increments the live handle gauge.
func (m *Metrics) HandleBound(kind string) {
	if m == nil {
		return
	}
	m.activeHandles.WithLabelValues(kind).Inc()
}

// HandleReleased decrements the live handle gauge.
func (m *Metrics) HandleReleased(kind string) {
	if m == nil {
		return
	}
	m.activeHandles.WithLabelValues(kind).Dec()
}
