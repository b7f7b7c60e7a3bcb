package cxdb

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
)

// fakeCXDB records calls the sink makes. Context IDs start at 1.
type fakeCXDB struct {
	mu        sync.Mutex
	created   int
	appends   []*cxdbclient.AppendRequest
	createErr error
	appendErr error
}

func (f *fakeCXDB) CreateContext(_ context.Context, _ uint64) (*cxdbclient.ContextHead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &cxdbclient.ContextHead{ContextID: uint64(f.created)}, nil
}

func (f *fakeCXDB) AppendTurn(_ context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.appends = append(f.appends, req)
	return &cxdbclient.AppendResult{ContextID: req.ContextID, TurnID: uint64(len(f.appends)), Depth: 1}, nil
}

func (f *fakeCXDB) state() (created int, appends []*cxdbclient.AppendRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, append([]*cxdbclient.AppendRequest(nil), f.appends...)
}

// turn decodes an appended payload and the JSON details inside it.
func turn(t *testing.T, req *cxdbclient.AppendRequest) (cxdtypes.ConversationItem, map[string]any) {
	t.Helper()
	var item cxdtypes.ConversationItem
	require.NoError(t, cxdbclient.DecodeMsgpackInto(req.Payload, &item))
	require.NotNil(t, item.System)

	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(item.System.Content), &details))
	return item, details
}

func ptr[T any](v T) *T { return &v }

func TestCXDBSink_Write_LinkedContext(t *testing.T) {
	fake := &fakeCXDB{}
	sink := NewCXDBSink(fake)

	err := sink.Write(context.Background(), aisen.ErrorEvent{
		EventID:     "evt-456",
		Timestamp:   time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC),
		Fingerprint: "fp123",
		Severity:    aisen.SeverityError,
		ErrorType:   "ErrorException",
		Level:       "E_USER_ERROR",
		Message:     "connection timed out",
		File:        "/srv/app/search.go",
		Line:        118,
		Operation:   "GET /search",
		ContextID:   ptr(uint64(99)),
		SystemState: &aisen.SystemState{GoroutineCount: 12, HostName: "web-1", PID: 4242, GoVersion: "go1.25.4"},
	})
	require.NoError(t, err)

	created, appends := fake.state()
	assert.Zero(t, created)
	require.Len(t, appends, 1)

	req := appends[0]
	assert.Equal(t, uint64(99), req.ContextID)
	assert.Equal(t, cxdtypes.TypeIDConversationItem, req.TypeID)
	assert.Equal(t, cxdtypes.TypeVersionConversationItem, req.TypeVersion)
	assert.Equal(t, "evt-456", req.IdempotencyKey)

	item, details := turn(t, req)
	assert.Equal(t, cxdtypes.ItemTypeSystem, item.ItemType)
	assert.Equal(t, cxdtypes.ItemStatusComplete, item.Status)
	assert.Equal(t, "evt-456", item.ID)
	assert.Equal(t, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC).UnixMilli(), item.Timestamp)
	assert.Equal(t, cxdtypes.SystemKindError, item.System.Kind)
	assert.Equal(t, "E_USER_ERROR ErrorException: connection timed out", item.System.Title)
	assert.Nil(t, item.ContextMetadata)

	assert.Equal(t, "evt-456", details["event_id"])
	assert.Equal(t, "error", details["severity"])
	assert.Equal(t, "fp123", details["fingerprint"])
	assert.Equal(t, "GET /search", details["operation"])
	assert.Equal(t, "E_USER_ERROR", details["level"])
	assert.Equal(t, "/srv/app/search.go", details["file"])
	assert.Equal(t, float64(118), details["line"])
	assert.Equal(t, float64(99), details["context_id"])

	state, ok := details["system_state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "web-1", state["host_name"])
	assert.Equal(t, float64(4242), state["pid"])
	assert.Equal(t, "go1.25.4", state["go_version"])
	assert.NotContains(t, state, "num_gc")
}

func TestCXDBSink_Write_OrphanContexts(t *testing.T) {
	tests := []struct {
		name        string
		opts        []CXDBSinkOption
		wantCreated int
		wantIDs     []uint64
		wantMeta    []bool
		wantLabels  []string
		wantTag     string
	}{
		{
			name:        "one context per event",
			wantCreated: 3,
			wantIDs:     []uint64{1, 2, 3},
			wantMeta:    []bool{true, true, true},
			wantLabels:  []string{"error", "unlinked"},
			wantTag:     "aisen",
		},
		{
			name:        "shared context",
			opts:        []CXDBSinkOption{WithSharedOrphanContext(), WithOrphanLabels([]string{"error", "critical"}), WithClientTag("billing")},
			wantCreated: 1,
			wantIDs:     []uint64{1, 1, 1},
			wantMeta:    []bool{true, false, false},
			wantLabels:  []string{"error", "critical"},
			wantTag:     "billing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCXDB{}
			sink := NewCXDBSink(fake, tt.opts...)

			for _, id := range []string{"evt-a", "evt-b", "evt-c"} {
				require.NoError(t, sink.Write(context.Background(), aisen.ErrorEvent{EventID: id, ErrorType: "panic"}))
			}

			created, appends := fake.state()
			assert.Equal(t, tt.wantCreated, created)
			require.Len(t, appends, 3)
			for i, req := range appends {
				assert.Equal(t, tt.wantIDs[i], req.ContextID)
				item, _ := turn(t, req)
				if !tt.wantMeta[i] {
					assert.Nil(t, item.ContextMetadata, "turn %d", i)
					continue
				}
				require.NotNil(t, item.ContextMetadata, "turn %d", i)
				assert.Equal(t, tt.wantLabels, item.ContextMetadata.Labels)
				assert.Equal(t, tt.wantTag, item.ContextMetadata.ClientTag)
			}
		})
	}
}

func TestCXDBSink_Write_Errors(t *testing.T) {
	down := errors.New("cxdb down")

	t.Run("create context", func(t *testing.T) {
		fake := &fakeCXDB{createErr: down}
		err := NewCXDBSink(fake).Write(context.Background(), aisen.ErrorEvent{EventID: "evt"})
		assert.ErrorIs(t, err, down)
		assert.ErrorContains(t, err, "create orphan context")
		_, appends := fake.state()
		assert.Empty(t, appends)
	})

	t.Run("append turn", func(t *testing.T) {
		fake := &fakeCXDB{appendErr: down}
		err := NewCXDBSink(fake).Write(context.Background(), aisen.ErrorEvent{ContextID: ptr(uint64(7))})
		assert.ErrorIs(t, err, down)
		assert.ErrorContains(t, err, "append turn to context 7")
	})

	t.Run("shared context retried after failure", func(t *testing.T) {
		fake := &fakeCXDB{createErr: down}
		sink := NewCXDBSink(fake, WithSharedOrphanContext())
		require.Error(t, sink.Write(context.Background(), aisen.ErrorEvent{}))

		fake.mu.Lock()
		fake.createErr = nil
		fake.mu.Unlock()
		require.NoError(t, sink.Write(context.Background(), aisen.ErrorEvent{}))
		created, _ := fake.state()
		assert.Equal(t, 1, created)
	})
}

func TestCXDBSink_Lifecycle(t *testing.T) {
	sink := NewCXDBSink(&fakeCXDB{})
	assert.NoError(t, sink.Flush(context.Background()))
	assert.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(context.Background(), aisen.ErrorEvent{}), ErrSinkClosed)
}

func TestBuildTitle(t *testing.T) {
	tests := []struct {
		name  string
		event aisen.ErrorEvent
		want  string
	}{
		{"type only", aisen.ErrorEvent{ErrorType: "panic"}, "panic"},
		{"level and message", aisen.ErrorEvent{ErrorType: "ErrorException", Level: "E_NOTICE", Message: "stale cache"}, "E_NOTICE ErrorException: stale cache"},
		{"long message", aisen.ErrorEvent{ErrorType: "panic", Message: strings.Repeat("m", 90)}, "panic: " + strings.Repeat("m", 80) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildTitle(tt.event))
		})
	}

	title := buildTitle(aisen.ErrorEvent{ErrorType: strings.Repeat("T", 40), Level: "E_WARNING", Message: strings.Repeat("x", 200)})
	assert.Len(t, title, 100)
	assert.True(t, strings.HasSuffix(title, "..."))
}

func TestCollectorToCXDB_ScrubbedBeforeStorage(t *testing.T) {
	fake := &fakeCXDB{}
	collector := aisen.NewCollector(aisen.WithSink(NewCXDBSink(fake)), aisen.WithDefaultScrubbing())

	require.NoError(t, collector.Record(context.Background(), aisen.ErrorEvent{
		Severity:  aisen.SeverityError,
		ErrorType: "ErrorException",
		Level:     "E_USER_ERROR",
		Message:   "api_key=sk-verysecret user@example.com",
		File:      "/home/deploy/app/login.go",
		Line:      40,
		Operation: "POST /login",
		Metadata:  map[string]string{"auth_token": "secret-token", "tenant": "acme"},
	}))

	_, appends := fake.state()
	require.Len(t, appends, 1)
	req := appends[0]
	require.NotEmpty(t, req.IdempotencyKey)

	item, details := turn(t, req)
	assert.Equal(t, req.IdempotencyKey, item.ID)
	assert.NotContains(t, details["message"], "sk-verysecret")
	assert.NotContains(t, details["message"], "user@example.com")
	assert.Equal(t, "/[PATH]/app/login.go", details["file"])
	assert.NotEmpty(t, details["fingerprint"])
	assert.Equal(t, map[string]any{"auth_token": "[REDACTED]", "tenant": "acme"}, details["metadata"])
	require.NotNil(t, item.ContextMetadata)
}
