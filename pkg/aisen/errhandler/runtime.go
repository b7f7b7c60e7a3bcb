// runtime.go defines the contracts between the handler, the runtime that
// raises signals, and the client that receives captured errors.

package errhandler

// ErrorHook receives live error signals. Returning true tells the runtime the
// signal was handled and its default display must be skipped.
type ErrorHook interface {
	HandleError(level Level, message, file string, line int) bool
}

// ExceptionHook receives uncaught exceptions (recovered panics).
type ExceptionHook interface {
	HandleException(exc any)
}

// ErrorHookFunc adapts a function to ErrorHook.
type ErrorHookFunc func(level Level, message, file string, line int) bool

// HandleError calls f.
func (f ErrorHookFunc) HandleError(level Level, message, file string, line int) bool {
	return f(level, message, file, line)
}

// ExceptionHookFunc adapts a function to ExceptionHook.
type ExceptionHookFunc func(exc any)

// HandleException calls f.
func (f ExceptionHookFunc) HandleException(exc any) {
	f(exc)
}

// Runtime is the process-wide hook table and diagnostic surface.
type Runtime interface {
	// SetErrorHook installs hook for the levels in mask and returns the hook
	// it displaced (nil when none was installed).
	SetErrorHook(hook ErrorHook, mask Mask) ErrorHook

	// SetExceptionHook installs hook and returns the hook it displaced.
	SetExceptionHook(hook ExceptionHook) ExceptionHook

	// RegisterShutdown adds fn to the hooks run once at process teardown.
	RegisterShutdown(fn func())

	// ReportingMask returns the live reporting mask. It may change at any
	// time independently of the handler.
	ReportingMask() Mask

	// LastError returns the last fatal signal observed by the runtime.
	LastError() (Signal, bool)
}

// Client is the capture sink. Capture is called synchronously; whatever it
// does with the error (queue, batch, send) and whether it fails is its own
// concern.
type Client interface {
	Capture(err error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(err error)

// Capture calls f.
func (f ClientFunc) Capture(err error) {
	f(err)
}
