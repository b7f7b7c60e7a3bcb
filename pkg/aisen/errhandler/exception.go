// exception.go defines raw signals and their normalized error form.

package errhandler

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// KindErrorException is the kind of every error built from an error signal.
const KindErrorException = "ErrorException"

// Signal is a raw error signal as delivered by the runtime.
// File and Line are zero when the runtime has no location.
type Signal struct {
	Level   Level
	Message string
	File    string
	Line    int
}

// ErrorException is the normalized representation of a signal or of an
// uncaught exception. It is built once and never mutated.
type ErrorException struct {
	Kind    string
	Level   Level
	Message string
	File    string
	Line    int

	// Stack is the goroutine stack captured where the exception was raised,
	// when one is known.
	Stack []byte

	cause error
}

// Error implements error.
func (e *ErrorException) Error() string {
	if e.File == "" {
		return e.Message
	}
	return e.Message + " in " + e.File + ":" + strconv.Itoa(e.Line)
}

// Unwrap returns the original error of a normalized exception, if any.
func (e *ErrorException) Unwrap() error {
	return e.cause
}

// Signal returns the raw signal the exception describes.
func (e *ErrorException) Signal() Signal {
	return Signal{Level: e.Level, Message: e.Message, File: e.File, Line: e.Line}
}

// StackTrace returns the captured stack as text.
func (e *ErrorException) StackTrace() string {
	return string(e.Stack)
}

// Normalize converts an error signal into an ErrorException.
func Normalize(sig Signal) *ErrorException {
	return &ErrorException{
		Kind:    KindErrorException,
		Level:   sig.Level,
		Message: sig.Message,
		File:    sig.File,
		Line:    sig.Line,
	}
}

// Optional capabilities of exception values. Values raised through panic
// or returned as errors may implement any of them.
type (
	kinder interface{ Kind() string }

	leveler interface{ Level() Level }

	locator interface{ Location() (file string, line int) }

	stackTracer interface{ StackTrace() string }
)

// NormalizeException converts an uncaught exception-like value into an
// ErrorException. The kind is taken from the value itself; a plain non-error
// panic value has kind "panic". Location, level and stack are copied when the
// value, or an error it wraps, exposes them.
func NormalizeException(exc any) *ErrorException {
	if isNilPointer(exc) {
		exc = nil
	}
	if existing, ok := exc.(*ErrorException); ok {
		return existing
	}

	out := &ErrorException{Level: LevelError}

	switch v := exc.(type) {
	case nil:
		out.Kind = "panic"
		out.Message = "<nil>"
	case error:
		out.Kind = kindOf(v)
		out.Message = v.Error()
		out.cause = v
	default:
		out.Kind = "panic"
		if k, ok := exc.(kinder); ok {
			out.Kind = k.Kind()
		}
		out.Message = fmt.Sprintf("%v", v)
	}

	if l, ok := capability[leveler](exc); ok {
		out.Level = l.Level()
	}
	if loc, ok := capability[locator](exc); ok {
		out.File, out.Line = loc.Location()
	}
	if st, ok := capability[stackTracer](exc); ok {
		out.Stack = []byte(st.StackTrace())
	}
	return out
}

// capability finds T on exc itself or anywhere in its wrap chain.
func capability[T any](exc any) (T, bool) {
	if v, ok := exc.(T); ok {
		return v, true
	}
	var target T
	if err, ok := exc.(error); ok && errors.As(err, &target) {
		return target, true
	}
	return target, false
}

// kindOf returns the declared kind of an error: its Kind method when it has
// one, the kind of a wrapped ErrorException or of another wrapped error with
// a Kind method, or its dynamic Go type.
func kindOf(err error) string {
	if k, ok := err.(kinder); ok {
		return k.Kind()
	}
	var ee *ErrorException
	if errors.As(err, &ee) && ee != nil {
		return ee.Kind
	}
	var k kinder
	if errors.As(err, &k) && !isNilPointer(k) {
		return k.Kind()
	}
	return fmt.Sprintf("%T", err)
}

// isNilPointer reports whether v is a typed nil, such as a nil *T stored in
// an error.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// PanicError wraps a recovered panic value together with the stack of the
// goroutine that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (p *PanicError) Error() string {
	if err, ok := p.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// Kind is "panic" for plain values and the declared kind of the panic value
// when it is an error.
func (p *PanicError) Kind() string {
	if err, ok := p.Value.(error); ok {
		return kindOf(err)
	}
	return "panic"
}

// StackTrace returns the stack captured at recovery.
func (p *PanicError) StackTrace() string {
	return string(p.Stack)
}
