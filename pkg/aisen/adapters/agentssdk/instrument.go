// instrument.go provides the Instrument function for convenient runner setup.
// This is the recommended entry point for integrating aisen with ai-agents-sdk.

package agentssdk

import (
	"log"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithLogger sets the logger used when the exception hook fails.
func WithLogger(logger *log.Logger) WrapOption {
	return func(w *WrappedRunner) {
		w.logger = logger
	}
}

// Instrument wraps a Runner so that failed runs reach hook, usually the
// *errhandler.Handler of the process.
//
// Example:
//
//	client := aisen.NewClient(collector)
//	handler := errhandler.NewHandler(client, procrt.Default())
//	runner := agentssdk.Instrument(agents.NewRunner(llm), handler)
//	result, err := runner.Run(ctx, agent, input, session, nil)
func Instrument(baseRunner *agents.Runner, hook errhandler.ExceptionHook, opts ...WrapOption) *WrappedRunner {
	wrapper := &WrappedRunner{
		inner: baseRunner,
		hook:  hook,
	}
	for _, opt := range opts {
		opt(wrapper)
	}
	return wrapper
}
