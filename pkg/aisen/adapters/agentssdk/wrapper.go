// wrapper.go implements WrappedRunner, which reports failed and panicking
// agent runs to an errhandler exception hook.

package agentssdk

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"strings"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// Operation names given to runs.
const (
	OpRun       = "agent.run"
	OpRunOnce   = "agent.run_once"
	OpRunStream = "agent.run_stream"
)

// RunError is a failed agent run. Kind classifies the failure (timeout,
// canceled, guardrail or error). Canceled runs are reported at
// E_USER_WARNING, everything else at E_USER_ERROR.
type RunError struct {
	Err  error
	kind string
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

// Kind returns the failure class.
func (e *RunError) Kind() string { return e.kind }

// Level returns the level the run failure is reported at.
func (e *RunError) Level() errhandler.Level {
	if e.kind == "canceled" {
		return errhandler.LevelUserWarning
	}
	return errhandler.LevelUserError
}

// WrappedRunner wraps an agents.Runner. Run errors and panics are reported
// to the exception hook; the caller still gets the original error, and
// panics are re-raised after reporting.
type WrappedRunner struct {
	inner  *agents.Runner
	hook   errhandler.ExceptionHook
	logger *log.Logger
}

// Run executes the agent with the given input and session, reporting any errors or panics.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	err := w.guard(ctx, OpRun, agent, session, func(ctx context.Context, trace *runTrace) error {
		var runErr error
		result, runErr = w.inner.Run(ctx, agent, input, session, trace.wrap(cfg))
		return runErr
	})
	return result, err
}

// RunOnce executes a single turn of the agent, reporting any errors or panics.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	err := w.guard(ctx, OpRunOnce, agent, nil, func(ctx context.Context, trace *runTrace) error {
		var runErr error
		result, runErr = w.inner.RunOnce(ctx, agent, input, trace.wrap(cfg))
		return runErr
	})
	return result, err
}

// RunStream starts a streaming run, reporting errors returned at start.
// Errors during streaming are not seen by this wrapper.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	var stream *agents.StreamingRun
	err := w.guard(ctx, OpRunStream, agent, session, func(ctx context.Context, trace *runTrace) error {
		var runErr error
		stream, runErr = w.inner.RunStream(ctx, agent, input, session, trace.wrap(cfg))
		return runErr
	})
	return stream, err
}

// Inner returns the underlying Runner for advanced usage.
func (w *WrappedRunner) Inner() *agents.Runner {
	return w.inner
}

// guard runs fn with a fresh trace. A returned error is reported as a
// *RunError and returned unchanged; a panic is reported as an
// *errhandler.PanicError and re-raised.
func (w *WrappedRunner) guard(ctx context.Context, op string, agent *agents.Agent, session any, fn func(context.Context, *runTrace) error) error {
	ctx = aisen.WithOperation(ctx, op)
	if id, ok := contextIDOf(ctx, session); ok {
		ctx = aisen.WithContextID(ctx, id)
	}

	trace := &runTrace{}
	if agent != nil {
		trace.setAgent(agent.Name())
	}

	defer func() {
		if r := recover(); r != nil {
			w.report(aisen.Annotate(ctx, &errhandler.PanicError{Value: r, Stack: debug.Stack()}, trace.tags()))
			panic(r)
		}
	}()

	err := fn(ctx, trace)
	if err != nil {
		w.report(aisen.Annotate(ctx, &RunError{Err: err, kind: classifyError(err)}, trace.tags()))
	}
	return err
}

// report hands exc to the hook. A failing hook never breaks the run.
func (w *WrappedRunner) report(exc error) {
	if w.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && w.logger != nil {
			w.logger.Printf("aisen: exception hook panicked: %v", r)
		}
	}()
	w.hook.HandleException(exc)
}

// contextIDOf asks the session for its cxdb context ID, falling back to the
// one carried by ctx.
func contextIDOf(ctx context.Context, session any) (uint64, bool) {
	if provider, ok := session.(aisen.ContextIDProvider); ok {
		if id, err := provider.ContextID(ctx); err == nil {
			return id, true
		}
	}
	return aisen.ContextIDFromContext(ctx)
}

var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

// classifyError determines the failure class of a run error.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	for _, p := range guardrailPatterns {
		if strings.Contains(msg, p) {
			return "guardrail"
		}
	}
	return "error"
}
