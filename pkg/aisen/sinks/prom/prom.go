// Package prom provides a sink wrapper that exports event counts as
// Prometheus metrics.
package prom

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// Metrics holds the aisen collectors. Create one per registerer.
type Metrics struct {
	// Events counts recorded events by severity, level and error type.
	Events *prometheus.CounterVec

	// WriteFailures counts events the wrapped sink failed to persist.
	WriteFailures prometheus.Counter

	// Dropped counts events discarded before persistence, by reason.
	Dropped *prometheus.CounterVec
}

// NewMetrics registers the aisen metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aisen_events_total",
				Help: "Total number of error events recorded",
			},
			[]string{"severity", "level", "error_type"},
		),
		WriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aisen_sink_write_failures_total",
				Help: "Total number of events the sink failed to persist",
			},
		),
		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aisen_events_dropped_total",
				Help: "Total number of events discarded before persistence",
			},
			[]string{"reason"},
		),
	}
}

// ObserveDrop counts a discarded event. Its signature fits the drop
// callbacks of the async and ratelimit sinks through small adapters.
func (m *Metrics) ObserveDrop(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

type promSink struct {
	inner   aisen.Sink
	metrics *Metrics
}

// NewPromSink counts every event written through it, then forwards it to
// inner. A nil inner only counts.
func NewPromSink(inner aisen.Sink, metrics *Metrics) aisen.Sink {
	return &promSink{inner: inner, metrics: metrics}
}

// Write counts the event and forwards it.
func (s *promSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	level := event.Level
	if level == "" {
		level = "none"
	}
	s.metrics.Events.WithLabelValues(string(event.Severity), level, event.ErrorType).Inc()

	if s.inner == nil {
		return nil
	}
	if err := s.inner.Write(ctx, event); err != nil {
		s.metrics.WriteFailures.Inc()
		return err
	}
	return nil
}

// Flush delegates to the inner sink.
func (s *promSink) Flush(ctx context.Context) error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Flush(ctx)
}

// Close delegates to the inner sink.
func (s *promSink) Close() error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
