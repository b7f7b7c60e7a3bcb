// sink.go defines where collected events go.

package aisen

import "context"

// Sink receives events after the collector has scrubbed and fingerprinted
// them. Sinks wrap one another (rate limiting, queueing, metrics, fan-out)
// and must be safe for concurrent use.
type Sink interface {
	// Write stores or forwards one event. Wrapping sinks may drop an event
	// on purpose and still return nil.
	Write(ctx context.Context, event ErrorEvent) error

	// Flush blocks until events accepted so far have reached their final
	// destination, or ctx ends.
	Flush(ctx context.Context) error

	// Close flushes what it can and releases resources. Writes after Close
	// fail for sinks that hold resources.
	Close() error
}
