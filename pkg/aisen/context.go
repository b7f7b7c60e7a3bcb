// context.go carries the operation name and cxdb context ID of the work in
// progress, so events recorded from a context can say what failed and which
// conversation it belonged to.

package aisen

import "context"

type (
	operationKey struct{}
	contextIDKey struct{}
)

// WithOperation returns a context naming what is being done ("GET /users",
// "agent.run"). Events built from the context carry it as Operation.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// OperationFromContext returns the operation set by WithOperation. An empty
// name counts as unset.
func OperationFromContext(ctx context.Context) (string, bool) {
	op, _ := ctx.Value(operationKey{}).(string)
	return op, op != ""
}

// WithContextID returns a context linked to a cxdb conversation context.
// Zero is a valid ID.
func WithContextID(ctx context.Context, contextID uint64) context.Context {
	return context.WithValue(ctx, contextIDKey{}, contextID)
}

// ContextIDFromContext returns the ID set by WithContextID.
func ContextIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(contextIDKey{}).(uint64)
	return id, ok
}

// ContextIDProvider is implemented by sessions that know their cxdb context,
// such as the agents SDK's CXDB-backed session. Instrumented runners use it
// to link events to the conversation.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}
