// collector.go turns events into their stored form and hands them to a Sink.

package aisen

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Collector records error events to configured sinks.
type Collector interface {
	// Record assigns identity, applies tags, scrubbing and fingerprinting,
	// then writes the event to the sink. It returns the sink's error.
	Record(ctx context.Context, event ErrorEvent) error

	// Flush ensures any buffered events are persisted.
	Flush(ctx context.Context) error

	// Close releases resources held by the collector.
	Close() error
}

// CollectorOption configures a Collector.
type CollectorOption func(*collector)

// WithSink sets the sink for the collector. Without one, events are
// processed and discarded.
func WithSink(sink Sink) CollectorOption {
	return func(c *collector) {
		c.sink = sink
	}
}

// WithScrubber configures the collector with a custom scrubber configuration.
func WithScrubber(cfg ScrubberConfig) CollectorOption {
	return func(c *collector) {
		c.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() CollectorOption {
	return WithScrubber(DefaultScrubberConfig())
}

// WithTags adds tags (release, environment, service) to the metadata of
// every event. Event metadata wins over a tag with the same key. Repeated
// calls accumulate.
func WithTags(tags map[string]string) CollectorOption {
	return func(c *collector) {
		if c.tags == nil {
			c.tags = make(map[string]string, len(tags))
		}
		maps.Copy(c.tags, tags)
	}
}

type collector struct {
	sink     Sink
	scrubber *Scrubber
	tags     map[string]string
	now      func() time.Time
}

// NewCollector creates a new Collector with the given options.
func NewCollector(opts ...CollectorOption) Collector {
	c := &collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = discardSink{}
	}
	return c
}

func (c *collector) Record(ctx context.Context, event ErrorEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if len(c.tags) > 0 {
		event.Metadata = mergeTags(c.tags, event.Metadata)
	}
	// Scrub first: the fingerprint is computed over what is stored.
	if c.scrubber != nil {
		event = c.scrubber.ScrubEvent(event)
	}
	event.Fingerprint = Fingerprint(event)

	return c.sink.Write(ctx, event)
}

func (c *collector) Flush(ctx context.Context) error {
	return c.sink.Flush(ctx)
}

func (c *collector) Close() error {
	return c.sink.Close()
}

// mergeTags returns a new map with tags overlaid by meta. Neither input is
// modified.
func mergeTags(tags, meta map[string]string) map[string]string {
	merged := make(map[string]string, len(tags)+len(meta))
	maps.Copy(merged, tags)
	maps.Copy(merged, meta)
	return merged
}

// discardSink is the collector's sink when none is configured. The sinks
// packages import aisen, so it cannot use one of them.
type discardSink struct{}

func (discardSink) Write(context.Context, ErrorEvent) error { return nil }

func (discardSink) Flush(context.Context) error { return nil }

func (discardSink) Close() error { return nil }
