// annotate.go attaches request context to errors before they reach the
// error handler, whose hooks carry no context.Context.

package aisen

import (
	"context"
	"errors"
)

// AnnotatedError carries an operation name, a cxdb context ID and tags along
// with an error. The error handler normalizes it like the error it wraps;
// the Client copies the annotations onto the event.
type AnnotatedError struct {
	Err       error
	Operation string
	ContextID *uint64
	Tags      map[string]string
}

// Annotate wraps err with the operation and context ID found in ctx and with
// tags. A nil err returns nil.
func Annotate(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}
	a := &AnnotatedError{Err: err, Tags: tags}
	if op, ok := OperationFromContext(ctx); ok {
		a.Operation = op
	}
	if id, ok := ContextIDFromContext(ctx); ok {
		a.ContextID = &id
	}
	return a
}

func (a *AnnotatedError) Error() string {
	return a.Err.Error()
}

func (a *AnnotatedError) Unwrap() error {
	return a.Err
}

// annotationsOf merges every AnnotatedError in err's chain. Outer
// annotations win.
func annotationsOf(err error) (op string, contextID *uint64, tags map[string]string) {
	for err != nil {
		var a *AnnotatedError
		if !errors.As(err, &a) {
			break
		}
		if op == "" {
			op = a.Operation
		}
		if contextID == nil {
			contextID = a.ContextID
		}
		for k, v := range a.Tags {
			if tags == nil {
				tags = make(map[string]string, len(a.Tags))
			}
			if _, ok := tags[k]; !ok {
				tags[k] = v
			}
		}
		err = a.Err
	}
	return op, contextID, tags
}
