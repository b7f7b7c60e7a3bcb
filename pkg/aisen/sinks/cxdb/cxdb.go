// Package cxdb provides a sink that persists errors to cxdb as SystemMessage items.
package cxdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("cxdb sink is closed")

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBSinkOption configures the CXDB sink.
type CXDBSinkOption func(*cxdbSink)

// WithOrphanLabels sets the labels of contexts created for events that are
// not linked to a conversation (default: "error", "unlinked").
func WithOrphanLabels(labels []string) CXDBSinkOption {
	return func(s *cxdbSink) {
		s.orphanLabels = labels
	}
}

// WithClientTag sets the client tag of orphan contexts (default: "aisen").
func WithClientTag(tag string) CXDBSinkOption {
	return func(s *cxdbSink) {
		s.clientTag = tag
	}
}

// WithSharedOrphanContext appends every event without a context ID to one
// orphan context created on first use, instead of one context per event.
func WithSharedOrphanContext() CXDBSinkOption {
	return func(s *cxdbSink) {
		s.sharedOrphan = true
	}
}

type cxdbSink struct {
	client       CXDBClient
	orphanLabels []string
	clientTag    string
	sharedOrphan bool

	mu       sync.Mutex
	orphanID uint64 // 0 until the shared orphan context exists
	closed   bool
}

// NewCXDBSink creates a sink that stores each event as a system error turn.
// Events with a ContextID land in that conversation; others get an orphan
// context.
func NewCXDBSink(client CXDBClient, opts ...CXDBSinkOption) aisen.Sink {
	s := &cxdbSink{
		client:       client,
		orphanLabels: []string{"error", "unlinked"},
		clientTag:    "aisen",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write appends event as one turn. The event ID is the idempotency key, so a
// retried write does not duplicate the turn.
func (s *cxdbSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}

	contextID, firstTurn, err := s.resolveContext(ctx, event)
	if err != nil {
		return err
	}

	payload, err := cxdbclient.EncodeMsgpack(s.buildConversationItem(event, firstTurn))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: event.EventID,
	}
	if _, err := s.client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn to context %d: %w", contextID, err)
	}
	return nil
}

// resolveContext picks the context an event is appended to. firstTurn is
// true when the context was just created and needs context metadata.
func (s *cxdbSink) resolveContext(ctx context.Context, event aisen.ErrorEvent) (id uint64, firstTurn bool, err error) {
	if event.ContextID != nil {
		return *event.ContextID, false, nil
	}

	if s.sharedOrphan {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.orphanID != 0 {
			return s.orphanID, false, nil
		}
	}

	head, err := s.client.CreateContext(ctx, 0)
	if err != nil {
		return 0, false, fmt.Errorf("create orphan context: %w", err)
	}
	if s.sharedOrphan {
		s.orphanID = head.ContextID
	}
	return head.ContextID, true, nil
}

func (s *cxdbSink) buildConversationItem(event aisen.ErrorEvent, withMetadata bool) *cxdtypes.ConversationItem {
	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: event.Timestamp.UnixMilli(),
		ID:        event.EventID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   buildTitle(event),
			Content: buildErrorDetails(event),
		},
	}

	// Context metadata belongs on the first turn only.
	if withMetadata {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.orphanLabels,
			ClientTag: s.clientTag,
		}
	}
	return item
}

// buildTitle renders "E_LEVEL error_type: message", truncated to 100 bytes.
func buildTitle(event aisen.ErrorEvent) string {
	title := event.ErrorType
	if event.Level != "" {
		title = event.Level + " " + title
	}
	if event.Message != "" {
		const maxMsgLen = 80
		msg := event.Message
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		title += ": " + msg
	}
	if len(title) > 100 {
		title = title[:97] + "..."
	}
	return title
}

type errorDetails struct {
	EventID     string            `json:"event_id"`
	Severity    string            `json:"severity"`
	ErrorType   string            `json:"error_type"`
	Level       string            `json:"level,omitempty"`
	Message     string            `json:"message"`
	File        string            `json:"file,omitempty"`
	Line        int               `json:"line,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Operation   string            `json:"operation"`
	StackTrace  string            `json:"stack_trace,omitempty"`
	ContextID   *uint64           `json:"context_id,omitempty"`
	SystemState *systemState      `json:"system_state,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type systemState struct {
	MemoryBytes    int64  `json:"memory_bytes"`
	GoroutineCount int    `json:"goroutine_count"`
	UptimeMs       int64  `json:"uptime_ms"`
	HostName       string `json:"host_name"`
	PID            int    `json:"pid,omitempty"`
	NumGC          uint32 `json:"num_gc,omitempty"`
	GoVersion      string `json:"go_version,omitempty"`
}

// buildErrorDetails renders the whole event as the JSON body of the turn.
func buildErrorDetails(event aisen.ErrorEvent) string {
	details := errorDetails{
		EventID:     event.EventID,
		Severity:    string(event.Severity),
		ErrorType:   event.ErrorType,
		Level:       event.Level,
		Message:     event.Message,
		File:        event.File,
		Line:        event.Line,
		Fingerprint: event.Fingerprint,
		Operation:   event.Operation,
		StackTrace:  event.StackTrace,
		ContextID:   event.ContextID,
		Metadata:    event.Metadata,
	}
	if st := event.SystemState; st != nil {
		details.SystemState = &systemState{
			MemoryBytes:    st.MemoryBytes,
			GoroutineCount: st.GoroutineCount,
			UptimeMs:       st.UptimeMs,
			HostName:       st.HostName,
			PID:            st.PID,
			NumGC:          st.NumGC,
			GoVersion:      st.GoVersion,
		}
	}

	b, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
	}
	return string(b)
}

// Flush does nothing: Write returns after cxdb acknowledged the turn.
func (s *cxdbSink) Flush(context.Context) error {
	return nil
}

// Close stops the sink. The cxdb client is owned by the caller and stays open.
func (s *cxdbSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
