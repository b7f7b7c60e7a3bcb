package agentssdk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	llmmock "github.com/strongdm/ai-llm-sdk/pkg/llm/mock"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler/procrt"
)

func newMockClient(adapter *llmmock.Adapter) *llmsdk.Client {
	return llmsdk.NewClient(
		map[llmsdk.Provider]llmsdk.ProviderAdapter{llmsdk.ProviderOpenAI: adapter},
		llmsdk.WithDefaultProvider(llmsdk.ProviderOpenAI),
	)
}

func enqueueToolCall(adapter *llmmock.Adapter, toolName, callID string) {
	call := llmsdk.ToolCall{
		ID:        callID,
		Name:      toolName,
		Arguments: json.RawMessage(`{"query":"hi"}`),
	}
	resp := llmsdk.Response{
		Model:        "test-model",
		Message:      llmsdk.Message{Role: llmsdk.RoleAssistant},
		ToolCalls:    []llmsdk.ToolCall{call},
		FinishReason: llmsdk.FinishReasonToolCalls,
	}
	adapter.EnqueueComplete(resp, nil)
}

// capturingSink captures events at the end of the pipeline.
type capturingSink struct {
	mu     sync.Mutex
	events []aisen.ErrorEvent
}

func (s *capturingSink) Write(ctx context.Context, event aisen.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Flush(ctx context.Context) error { return nil }

func (s *capturingSink) Close() error { return nil }

func (s *capturingSink) getEvents() []aisen.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]aisen.ErrorEvent, len(s.events))
	copy(result, s.events)
	return result
}

// newPipeline wires a runner the way an application does: runner, handler,
// client, collector, sink.
func newPipeline(t *testing.T, adapter *llmmock.Adapter) (*WrappedRunner, *capturingSink) {
	t.Helper()
	sink := &capturingSink{}
	collector := aisen.NewCollector(
		aisen.WithSink(sink),
		aisen.WithDefaultScrubbing(),
	)
	rt := procrt.New(procrt.WithExit(func(int) {}))
	handler := errhandler.NewHandler(aisen.NewClient(collector), rt).
		RegisterExceptionHandler(false)

	return Instrument(agents.NewRunner(newMockClient(adapter)), handler), sink
}

func TestE2E_RunWrapper_TagsToolFailure(t *testing.T) {
	adapter := &llmmock.Adapter{}
	enqueueToolCall(adapter, "FailTool", "call-1")
	wrapped, sink := newPipeline(t, adapter)

	tool := agents.Tool{
		Name: "FailTool",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("tool execution failed")
		},
	}
	agent := agents.NewAgent(agents.AgentConfig{
		Name:         "e2e-agent",
		Instructions: "be helpful",
		Model:        "test-model",
		Tools:        []agents.Tool{tool},
	})

	spy := &countingRunHooks{}
	cfg := &agents.RunConfig{Hooks: spy, MaxTurns: 2}

	_, err := wrapped.Run(context.Background(), agent, "trigger tool", nil, cfg)
	require.Error(t, err)

	events := sink.getEvents()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, OpRun, ev.Operation)
	assert.Equal(t, aisen.SeverityError, ev.Severity)
	assert.Equal(t, "error", ev.ErrorType)
	assert.Equal(t, "e2e-agent", ev.Metadata["agent"])
	assert.Equal(t, "tool", ev.Metadata["step"])
	assert.Equal(t, "FailTool", ev.Metadata["tool"])
	assert.Equal(t, "call-1", ev.Metadata["tool_call_id"])
	assert.Equal(t, "test-model", ev.Metadata["model"])
	assert.NotEmpty(t, ev.Fingerprint)

	assert.Positive(t, spy.count("agent_start"), "inner hooks must still run")
	assert.Positive(t, spy.count("llm_start"))
	assert.Positive(t, spy.count("tool_start"))
	assert.Same(t, spy, cfg.Hooks, "caller config must not be modified")
}

func TestE2E_RunWrapper_ContextIDFromContextFallback(t *testing.T) {
	adapter := &llmmock.Adapter{}
	adapter.EnqueueComplete(llmsdk.Response{}, errors.New("llm failed"))
	wrapped, sink := newPipeline(t, adapter)

	agent := agents.NewAgent(agents.AgentConfig{
		Name:         "context-agent",
		Instructions: "be helpful",
		Model:        "test-model",
	})

	contextID := uint64(424242)
	ctx := aisen.WithContextID(context.Background(), contextID)

	_, err := wrapped.Run(ctx, agent, "hi", nil, nil)
	require.Error(t, err)

	events := sink.getEvents()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ContextID)
	assert.Equal(t, contextID, *events[0].ContextID)
	assert.Equal(t, "llm", events[0].Metadata["step"])
}

func TestE2E_RunWrapper_CapturesSystemState(t *testing.T) {
	t.Run("error path", func(t *testing.T) {
		adapter := &llmmock.Adapter{}
		adapter.EnqueueComplete(llmsdk.Response{}, errors.New("llm failed"))
		wrapped, sink := newPipeline(t, adapter)

		agent := agents.NewAgent(agents.AgentConfig{
			Name:         "system-state-agent",
			Instructions: "be helpful",
			Model:        "test-model",
		})

		_, err := wrapped.RunOnce(context.Background(), agent, "hi", nil)
		require.Error(t, err)

		events := sink.getEvents()
		require.Len(t, events, 1)
		assert.Equal(t, OpRunOnce, events[0].Operation)
		state := events[0].SystemState
		require.NotNil(t, state)
		assert.Positive(t, state.GoroutineCount)
		assert.GreaterOrEqual(t, state.UptimeMs, int64(0))
	})

	t.Run("panic path", func(t *testing.T) {
		adapter := &llmmock.Adapter{}
		enqueueToolCall(adapter, "PanicTool", "call-2")
		wrapped, sink := newPipeline(t, adapter)

		tool := agents.Tool{
			Name: "PanicTool",
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				panic("tool panicked")
			},
		}
		agent := agents.NewAgent(agents.AgentConfig{
			Name:         "panic-agent",
			Instructions: "be helpful",
			Model:        "test-model",
			Tools:        []agents.Tool{tool},
		})

		assert.PanicsWithValue(t, "tool panicked", func() {
			_, _ = wrapped.Run(context.Background(), agent, "trigger panic", nil, nil)
		})

		events := sink.getEvents()
		require.Len(t, events, 1)
		ev := events[0]
		assert.Equal(t, aisen.SeverityCrash, ev.Severity)
		assert.Equal(t, "panic", ev.ErrorType)
		assert.Equal(t, "tool panicked", ev.Message)
		assert.NotEmpty(t, ev.StackTrace)
		assert.Equal(t, "PanicTool", ev.Metadata["tool"])
		require.NotNil(t, ev.SystemState)
	})
}
