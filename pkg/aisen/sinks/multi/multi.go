// Package multi provides a sink that fans out to multiple sinks.
// All sinks receive all events; errors are aggregated.
package multi

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// multiSink fans out to multiple sinks.
type multiSink struct {
	sinks []aisen.Sink
}

// NewMultiSink creates a sink that writes to multiple sinks.
// Nil sinks are skipped and nested multi sinks are flattened. With no sinks
// the result discards every event.
func NewMultiSink(sinks ...aisen.Sink) aisen.Sink {
	m := &multiSink{}
	for _, sink := range sinks {
		switch s := sink.(type) {
		case nil:
		case *multiSink:
			m.sinks = append(m.sinks, s.sinks...)
		default:
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Write sends the event to all sinks concurrently and waits for them.
// One failing sink never keeps the event from the others.
func (s *multiSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	if len(s.sinks) == 1 {
		return s.sinks[0].Write(ctx, event)
	}
	return s.each("write", func(sink aisen.Sink) error {
		return sink.Write(ctx, event)
	})
}

// Flush flushes all sinks concurrently, so a slow remote sink does not eat
// the deadline of the others.
func (s *multiSink) Flush(ctx context.Context) error {
	return s.each("flush", func(sink aisen.Sink) error {
		return sink.Flush(ctx)
	})
}

// Close closes the sinks in order.
func (s *multiSink) Close() error {
	errs := make([]error, len(s.sinks))
	for i, sink := range s.sinks {
		errs[i] = sink.Close()
	}
	return s.join("close", errs)
}

// Len reports how many sinks receive events.
func (s *multiSink) Len() int {
	return len(s.sinks)
}

func (s *multiSink) each(op string, fn func(aisen.Sink) error) error {
	errs := make([]error, len(s.sinks))
	var g errgroup.Group
	for i, sink := range s.sinks {
		g.Go(func() error {
			errs[i] = fn(sink)
			return nil
		})
	}
	_ = g.Wait()
	return s.join(op, errs)
}

func (s *multiSink) join(op string, errs []error) error {
	var out []error
	for i, err := range errs {
		if err != nil {
			out = append(out, fmt.Errorf("%s sink %d (%T): %w", op, i, s.sinks[i], err))
		}
	}
	return errors.Join(out...)
}
