// client.go connects the error handler to a Collector: every normalized
// error it captures becomes an ErrorEvent.

package aisen

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for capture failures. Nil disables logging.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseContext sets the context events are recorded with. Its operation
// and cxdb context ID apply to every event that does not carry its own.
func WithBaseContext(ctx context.Context) ClientOption {
	return func(c *Client) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// WithStartTime sets the process start used for SystemState uptime
// (default: when the Client was created).
func WithStartTime(t time.Time) ClientOption {
	return func(c *Client) {
		c.startTime = t
	}
}

// WithoutSystemState disables the memory/goroutine snapshot on events.
func WithoutSystemState() ClientOption {
	return func(c *Client) {
		c.systemState = false
	}
}

// WithCaptureTimeout bounds how long a single Capture may spend in the
// collector (default: 5s). Zero means no bound.
func WithCaptureTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client is the capture sink handed to errhandler.NewHandler. Capture never
// fails: collector errors are logged and dropped.
type Client struct {
	collector   Collector
	logger      *log.Logger
	baseCtx     context.Context
	startTime   time.Time
	systemState bool
	timeout     time.Duration
}

var _ errhandler.Client = (*Client)(nil)

// NewClient creates a Client recording into collector.
func NewClient(collector Collector, opts ...ClientOption) *Client {
	c := &Client{
		collector:   collector,
		baseCtx:     context.Background(),
		startTime:   time.Now(),
		systemState: true,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.collector == nil {
		c.collector = NewCollector()
	}
	return c
}

// Capture implements errhandler.Client.
func (c *Client) Capture(err error) {
	c.CaptureContext(c.baseCtx, err)
}

// CaptureContext records err using ctx for the operation, the cxdb context ID
// and cancellation.
func (c *Client) CaptureContext(ctx context.Context, err error) {
	event := EventFromError(ctx, err)
	if c.systemState {
		event.SystemState = CaptureSystemState(c.startTime)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if recordErr := c.collector.Record(ctx, event); recordErr != nil {
		c.logf("failed to record %s event: %v", event.ErrorType, recordErr)
	}
}

// Flush flushes the collector.
func (c *Client) Flush(ctx context.Context) error {
	return c.collector.Flush(ctx)
}

// Close closes the collector.
func (c *Client) Close() error {
	return c.collector.Close()
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("aisen: "+format, args...)
	}
}

// EventFromError builds the event for err. Severity follows the error level;
// panics are always crashes. Annotations on err take precedence over the
// operation and context ID in ctx.
func EventFromError(ctx context.Context, err error) ErrorEvent {
	ee := errhandler.NormalizeException(err)

	event := ErrorEvent{
		Severity:   SeverityForLevel(ee.Level),
		ErrorType:  ee.Kind,
		Level:      ee.Level.String(),
		Message:    ee.Message,
		File:       ee.File,
		Line:       ee.Line,
		StackTrace: ee.StackTrace(),
	}

	var pe *errhandler.PanicError
	if errors.As(err, &pe) {
		event.Severity = SeverityCrash
	}

	if op, ok := OperationFromContext(ctx); ok {
		event.Operation = op
	}
	if id, ok := ContextIDFromContext(ctx); ok {
		event.ContextID = &id
	}

	op, contextID, tags := annotationsOf(err)
	if op != "" {
		event.Operation = op
	}
	if contextID != nil {
		id := *contextID
		event.ContextID = &id
	}
	event.Metadata = tags

	return event
}
