// Package async decouples event capture from delivery with a bounded
// in-memory queue in front of another sink.
package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// ErrSinkClosed is returned by Write and Flush after Close.
var ErrSinkClosed = errors.New("async sink is closed")

// AsyncSinkOption configures the async sink.
type AsyncSinkOption func(*asyncSink)

// WithQueueSize sets the maximum number of queued events (default: 1000).
func WithQueueSize(size int) AsyncSinkOption {
	return func(s *asyncSink) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithFlushInterval sets how often the inner sink is flushed while events
// are flowing (default: 100ms).
func WithFlushInterval(d time.Duration) AsyncSinkOption {
	return func(s *asyncSink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithOnDropped sets a callback for events evicted from a full queue.
func WithOnDropped(fn func(count int)) AsyncSinkOption {
	return func(s *asyncSink) {
		s.onDropped = fn
	}
}

// WithOnError sets a callback for errors from the inner sink, which Write
// can no longer return to its caller.
func WithOnError(fn func(err error)) AsyncSinkOption {
	return func(s *asyncSink) {
		s.onError = fn
	}
}

type asyncSink struct {
	inner         aisen.Sink
	queueSize     int
	flushInterval time.Duration
	onDropped     func(count int)
	onError       func(err error)

	queue chan aisen.ErrorEvent
	done  chan struct{}
	wg    sync.WaitGroup

	// pending counts events accepted but not yet written or dropped.
	pending atomic.Int64

	// closeMu guards closed and keeps enqueues out of a concurrent Close.
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewAsyncSink moves writes to inner onto a background goroutine. When the
// queue is full the oldest queued event is evicted.
func NewAsyncSink(inner aisen.Sink, opts ...AsyncSinkOption) aisen.Sink {
	s := &asyncSink{
		inner:         inner,
		queueSize:     1000,
		flushInterval: 100 * time.Millisecond,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan aisen.ErrorEvent, s.queueSize)

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// processLoop drains the queue into the inner sink and flushes it
// periodically while there is traffic.
func (s *asyncSink) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	dirty := false

	for {
		select {
		case event := <-s.queue:
			s.write(event)
			dirty = true
		case <-ticker.C:
			if dirty {
				s.report(s.inner.Flush(context.Background()))
				dirty = false
			}
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(event aisen.ErrorEvent) {
	s.report(s.inner.Write(context.Background(), event))
	s.pending.Add(-1)
}

func (s *asyncSink) report(err error) {
	if err != nil && s.onError != nil {
		s.onError(err)
	}
}

func (s *asyncSink) dropped() {
	s.pending.Add(-1)
	if s.onDropped != nil {
		s.onDropped(1)
	}
}

// Write enqueues event and returns without waiting for the inner sink.
func (s *asyncSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case <-s.queue:
		s.dropped()
	default:
		// emptied by the processor in the meantime
	}
	select {
	case s.queue <- event:
	default:
		s.dropped()
	}
	return nil
}

// Flush blocks until all accepted events are written, then flushes the
// inner sink.
func (s *asyncSink) Flush(ctx context.Context) error {
	s.closeMu.RLock()
	closed := s.closed
	s.closeMu.RUnlock()
	if closed {
		return ErrSinkClosed
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close drains the queue, stops the processor and closes the inner sink.
// Later calls return the result of the first.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()

		s.closeErr = errors.Join(s.inner.Flush(context.Background()), s.inner.Close())
	})
	return s.closeErr
}
