// Package ratelimit provides a sink wrapper that throttles event floods.
// A token bucket bounds the overall event rate; an optional per-fingerprint
// bucket stops one repeating error from starving the rest.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// Reason says why an event was discarded.
type Reason string

const (
	// ReasonGlobal means the overall rate was exceeded.
	ReasonGlobal Reason = "rate_limit"

	// ReasonFingerprint means the event's fingerprint exceeded its own rate.
	ReasonFingerprint Reason = "fingerprint_rate_limit"
)

// DefaultMaxFingerprints bounds how many per-fingerprint buckets are kept.
const DefaultMaxFingerprints = 1024

// Option configures the rate-limited sink.
type Option func(*config)

type config struct {
	perFingerprint  rate.Limit
	fpBurst         int
	maxFingerprints int
	onDropped       func(event aisen.ErrorEvent, reason Reason)
}

// WithPerFingerprint also limits each fingerprint to limit events per second
// with the given burst.
func WithPerFingerprint(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.perFingerprint = limit
		c.fpBurst = burst
	}
}

// WithMaxFingerprints caps the number of tracked fingerprints
// (default: DefaultMaxFingerprints). When full, all buckets are reset.
func WithMaxFingerprints(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFingerprints = n
		}
	}
}

// WithOnDropped sets a callback invoked for every discarded event.
func WithOnDropped(fn func(event aisen.ErrorEvent, reason Reason)) Option {
	return func(c *config) {
		c.onDropped = fn
	}
}

type limitedSink struct {
	inner  aisen.Sink
	global *rate.Limiter
	cfg    config

	mu  sync.Mutex // guards fps and orders token checks
	fps map[string]*rate.Limiter
}

// NewRateLimitedSink wraps inner so that at most limit events per second
// (with bursts of burst) reach it. Discarded events are not an error:
// Write returns nil and OnDropped is told.
func NewRateLimitedSink(inner aisen.Sink, limit rate.Limit, burst int, opts ...Option) aisen.Sink {
	cfg := config{maxFingerprints: DefaultMaxFingerprints}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &limitedSink{
		inner:  inner,
		global: rate.NewLimiter(limit, burst),
		cfg:    cfg,
		fps:    make(map[string]*rate.Limiter),
	}
}

// Write forwards the event when both buckets allow it. A fingerprint token
// is only spent when the global bucket lets the event through.
func (s *limitedSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	if reason, ok := s.admit(event.Fingerprint); !ok {
		s.drop(event, reason)
		return nil
	}
	return s.inner.Write(ctx, event)
}

func (s *limitedSink) admit(fingerprint string) (Reason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fp *rate.Limiter
	if s.cfg.perFingerprint > 0 && fingerprint != "" {
		fp = s.fingerprintLimiter(fingerprint)
		if fp.Tokens() < 1 {
			return ReasonFingerprint, false
		}
	}
	if !s.global.Allow() {
		return ReasonGlobal, false
	}
	if fp != nil {
		fp.Allow()
	}
	return "", true
}

// fingerprintLimiter must be called with s.mu held.
func (s *limitedSink) fingerprintLimiter(fp string) *rate.Limiter {
	if l, ok := s.fps[fp]; ok {
		return l
	}
	if len(s.fps) >= s.cfg.maxFingerprints {
		clear(s.fps)
	}
	l := rate.NewLimiter(s.cfg.perFingerprint, s.cfg.fpBurst)
	s.fps[fp] = l
	return l
}

func (s *limitedSink) drop(event aisen.ErrorEvent, reason Reason) {
	if s.cfg.onDropped != nil {
		s.cfg.onDropped(event, reason)
	}
}

// Flush delegates to the inner sink.
func (s *limitedSink) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

// Close delegates to the inner sink.
func (s *limitedSink) Close() error {
	return s.inner.Close()
}
