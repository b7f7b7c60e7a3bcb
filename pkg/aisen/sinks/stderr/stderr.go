// Package stderr provides a sink that prints events for humans, for local
// development and for processes whose stderr is already collected.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

const indent = "        "

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSink)

// WithVerbose adds metadata and the stack trace to each event.
func WithVerbose() StderrSinkOption {
	return func(s *stderrSink) {
		s.verbose = true
	}
}

// WithWriter sends output to w instead of os.Stderr.
func WithWriter(w io.Writer) StderrSinkOption {
	return func(s *stderrSink) {
		s.out = w
	}
}

type stderrSink struct {
	verbose bool

	mu  sync.Mutex // one event's lines are written together
	out io.Writer
}

// NewStderrSink creates a sink that writes to os.Stderr.
func NewStderrSink(opts ...StderrSinkOption) aisen.Sink {
	s := &stderrSink{out: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write prints event as a header line followed by indented detail lines:
//
//	[AISEN] 2026-01-26T15:04:05Z CRASH panic [E_ERROR] in GET /users
//	        Message: nil map write
//	        At: /srv/app/users.go:57
func (s *stderrSink) Write(_ context.Context, event aisen.ErrorEvent) error {
	text := format(event, s.verbose)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, text)
	return err
}

func (s *stderrSink) Flush(context.Context) error { return nil }

func (s *stderrSink) Close() error { return nil }

func format(event aisen.ErrorEvent, verbose bool) string {
	var b strings.Builder

	b.WriteString("[AISEN] ")
	b.WriteString(event.Timestamp.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(string(event.Severity)))
	b.WriteByte(' ')
	b.WriteString(event.ErrorType)
	if event.Level != "" {
		b.WriteString(" [" + event.Level + "]")
	}
	if event.Operation != "" {
		b.WriteString(" in " + event.Operation)
	}
	b.WriteByte('\n')

	detail := func(label, value string) {
		fmt.Fprintf(&b, "%s%s: %s\n", indent, label, value)
	}
	if event.Message != "" {
		detail("Message", event.Message)
	}
	if event.File != "" {
		detail("At", fmt.Sprintf("%s:%d", event.File, event.Line))
	}
	if event.Fingerprint != "" {
		detail("Fingerprint", event.Fingerprint)
	}
	if event.ContextID != nil {
		detail("Context", fmt.Sprint(*event.ContextID))
	}
	if !verbose {
		return b.String()
	}

	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + event.Metadata[k]
		}
		detail("Tags", strings.Join(pairs, " "))
	}
	if event.StackTrace != "" {
		b.WriteString(indent + "Stack trace:\n")
		for line := range strings.Lines(strings.TrimRight(event.StackTrace, "\n")) {
			b.WriteString(indent + "  " + strings.TrimRight(line, "\n") + "\n")
		}
	}
	return b.String()
}
