// handler.go implements the dispatch core: hook registration and the
// error, exception and fatal-error paths.

package errhandler

import (
	"log"
	"sync"
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets a logger for debug output about dropped signals.
// A nil logger disables logging.
func WithLogger(logger *log.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler turns runtime signals into captured errors. One Handler is meant to
// be bound to one client; it owns the configuration written by the Register*
// methods and the fatal-signal deduplicator.
type Handler struct {
	client  Client
	runtime Runtime
	logger  *log.Logger
	dedup   Deduplicator

	mu                  sync.RWMutex
	reportingMask       Mask
	propagateErrors     bool
	propagateExceptions bool
	displacedError      ErrorHook
	displacedException  ExceptionHook
	shutdownInstalled   bool
}

// NewHandler creates a Handler delivering to client and reading live state
// from rt. No hook is installed until one of the Register methods is called.
func NewHandler(client Client, rt Runtime, opts ...HandlerOption) *Handler {
	h := &Handler{
		client:        client,
		runtime:       rt,
		reportingMask: MaskDefault,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterErrorHandler installs h as the runtime's error hook for every
// level. mask selects the reportable levels; MaskDefault defers to the
// runtime's live mask on each signal. When propagate is true, the hook that
// was installed before is invoked after each reported signal; otherwise it is
// discarded. Registering over itself leaves no previous hook.
func (h *Handler) RegisterErrorHandler(propagate bool, mask Mask) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.runtime.SetErrorHook(h, MaskAll)
	h.displacedError = nil
	if propagate && !h.isSelf(prev) {
		h.displacedError = prev
	}
	h.propagateErrors = propagate
	h.reportingMask = mask
	return h
}

// RegisterExceptionHandler installs h as the runtime's uncaught-exception
// hook. When propagate is true, the previously installed hook is invoked
// after each capture; otherwise it is discarded.
func (h *Handler) RegisterExceptionHandler(propagate bool) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.runtime.SetExceptionHook(h)
	h.displacedException = nil
	if propagate && !h.isSelf(prev) {
		h.displacedException = prev
	}
	h.propagateExceptions = propagate
	return h
}

func (h *Handler) isSelf(hook any) bool {
	self, ok := hook.(*Handler)
	return ok && self == h
}

// RegisterShutdownHandler installs HandleFatalError as a teardown hook.
// Calling it again on the same handler does nothing.
func (h *Handler) RegisterShutdownHandler() *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.shutdownInstalled {
		h.runtime.RegisterShutdown(h.HandleFatalError)
		h.shutdownInstalled = true
	}
	return h
}

// ReportingMask returns the mask set by RegisterErrorHandler.
func (h *Handler) ReportingMask() Mask {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reportingMask
}

// PreviousErrorHook returns the hook invoked after reported error signals,
// or nil when propagation is off or nothing was installed before.
func (h *Handler) PreviousErrorHook() ErrorHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.propagateErrors {
		return nil
	}
	return h.displacedError
}

// PreviousExceptionHook is the exception counterpart of PreviousErrorHook.
func (h *Handler) PreviousExceptionHook() ExceptionHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.propagateExceptions {
		return nil
	}
	return h.displacedException
}

// HandleError is the live error hook.
//
// Fatal-class signals are remembered for deduplication whether or not they
// pass the filter. A suppressed signal ends here. A reportable one is
// normalized and captured, then handed to the previous hook with its original
// arguments when propagation is on; that hook's result is returned. Otherwise
// HandleError returns false so the runtime's default display still applies.
func (h *Handler) HandleError(level Level, message, file string, line int) bool {
	sig := Signal{Level: level, Message: message, File: file, Line: line}
	h.dedup.RecordIfFatal(sig)

	mask := h.ReportingMask()
	if !IsReportable(level, mask, h.runtime.ReportingMask()) {
		h.debugf("suppressed %s: %s", level, message)
		return false
	}

	h.client.Capture(Normalize(sig))

	if prev := h.PreviousErrorHook(); prev != nil {
		return prev.HandleError(level, message, file, line)
	}
	return false
}

// HandleException is the uncaught-exception hook. Exceptions are always
// reported; the severity filter is not consulted. The exception is absorbed:
// it is never re-raised.
func (h *Handler) HandleException(exc any) {
	h.client.Capture(NormalizeException(exc))

	if prev := h.PreviousExceptionHook(); prev != nil {
		prev.HandleException(exc)
	}
}

// HandleFatalError is the teardown hook. It reports the runtime's last fatal
// signal unless there is none, its level is outside the live reporting mask,
// or it was already reported by HandleError.
func (h *Handler) HandleFatalError() {
	sig, ok := h.runtime.LastError()
	if !ok {
		return
	}
	if !h.runtime.ReportingMask().Has(sig.Level) {
		h.debugf("fatal %s outside reporting mask", sig.Level)
		return
	}
	if h.dedup.IsDuplicateOfLast(sig) {
		h.debugf("fatal %s already reported", sig.Level)
		return
	}
	h.client.Capture(Normalize(sig))
}

func (h *Handler) debugf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf("errhandler: "+format, args...)
	}
}
