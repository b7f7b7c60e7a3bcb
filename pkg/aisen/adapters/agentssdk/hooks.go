// hooks.go records what a run was doing so that a failure can be tagged
// with the agent, tool and model involved.

package agentssdk

import (
	"context"
	"sync"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// runTrace is the last known activity of one run.
type runTrace struct {
	mu         sync.Mutex
	agent      string
	step       string
	tool       string
	toolCallID string
	model      string
}

func (t *runTrace) setAgent(name string) {
	t.mu.Lock()
	t.agent = name
	t.mu.Unlock()
}

// tags renders the trace as event metadata. Nil when nothing is known.
func (t *runTrace) tags() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tags := make(map[string]string, 5)
	for k, v := range map[string]string{
		"agent":        t.agent,
		"step":         t.step,
		"tool":         t.tool,
		"tool_call_id": t.toolCallID,
		"model":        t.model,
	} {
		if v != "" {
			tags[k] = v
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// wrap clones cfg with hooks that feed the trace. The caller's hooks still
// run and their errors are returned.
func (t *runTrace) wrap(cfg *agents.RunConfig) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = &traceHooks{trace: t, inner: cloned.Hooks}
	return &cloned
}

// traceHooks implements agents.RunHooks.
type traceHooks struct {
	trace *runTrace
	inner agents.RunHooks
}

var _ agents.RunHooks = (*traceHooks)(nil)

func (h *traceHooks) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	if agent != nil {
		h.trace.setAgent(agent.Name())
	}
	if h.inner != nil {
		return h.inner.OnAgentStart(ctx, runCtx, agent)
	}
	return nil
}

func (h *traceHooks) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	if h.inner != nil {
		return h.inner.OnAgentEnd(ctx, runCtx, agent, result)
	}
	return nil
}

func (h *traceHooks) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	if to != nil {
		h.trace.setAgent(to.Name())
	}
	if h.inner != nil {
		return h.inner.OnHandoff(ctx, runCtx, from, to)
	}
	return nil
}

func (h *traceHooks) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	h.trace.mu.Lock()
	if agent != nil {
		h.trace.agent = agent.Name()
	}
	h.trace.step = "tool"
	h.trace.tool = tool.Name
	h.trace.toolCallID = call.ID
	h.trace.mu.Unlock()

	if h.inner != nil {
		return h.inner.OnToolStart(ctx, runCtx, agent, tool, call)
	}
	return nil
}

func (h *traceHooks) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	if h.inner != nil {
		return h.inner.OnToolEnd(ctx, runCtx, agent, tool, output)
	}
	return nil
}

func (h *traceHooks) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	h.trace.mu.Lock()
	if agent != nil {
		h.trace.agent = agent.Name()
	}
	h.trace.step = "llm"
	h.trace.model = req.Model
	h.trace.mu.Unlock()

	if h.inner != nil {
		return h.inner.OnLLMStart(ctx, runCtx, agent, req)
	}
	return nil
}

func (h *traceHooks) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	if h.inner != nil {
		return h.inner.OnLLMEnd(ctx, runCtx, agent, resp)
	}
	return nil
}
