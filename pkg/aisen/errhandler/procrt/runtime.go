// Package procrt is the process runtime for errhandler: it owns the hook
// table, the reporting mask, the last fatal signal and the teardown hooks of
// a Go process.
//
// Error signals are raised with Trigger; fatal signals with Fatal, which
// records the signal, runs the teardown hooks and exits. Panics that reach
// Recover (directly, or through Guard and Go) are uncaught exceptions: the
// exception hook sees them, then the process tears down.
package procrt

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// ExitUncaught is the exit status after a fatal signal or an uncaught panic.
const ExitUncaught = 255

// Option configures a Runtime.
type Option func(*Runtime)

// WithExit replaces os.Exit. Tests use it to observe termination.
func WithExit(exit func(code int)) Option {
	return func(r *Runtime) {
		if exit != nil {
			r.exit = exit
		}
	}
}

// WithDisplay sets where unhandled signals and panics are printed
// (default: os.Stderr).
func WithDisplay(w io.Writer) Option {
	return func(r *Runtime) {
		if w != nil {
			r.display = w
		}
	}
}

// WithReportingMask sets the initial reporting mask (default: MaskAll).
func WithReportingMask(m errhandler.Mask) Option {
	return func(r *Runtime) {
		r.reporting.Store(int64(m))
	}
}

// WithLogger sets a logger for lifecycle messages. Nil disables logging.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// Runtime is a process-wide hook table. It is safe for concurrent use.
type Runtime struct {
	mu       sync.Mutex
	errHook  errhandler.ErrorHook
	errMask  errhandler.Mask
	excHook  errhandler.ExceptionHook
	shutdown []func()
	last     *errhandler.Signal

	reporting    atomic.Int64
	silenced     atomic.Int32
	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	exit    func(code int)
	display io.Writer
	logger  *log.Logger
}

var _ errhandler.Runtime = (*Runtime)(nil)

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		exit:    os.Exit,
		display: os.Stderr,
	}
	r.reporting.Store(int64(errhandler.MaskAll))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// Default returns the process-wide Runtime.
func Default() *Runtime {
	defaultOnce.Do(func() {
		defaultRT = New()
	})
	return defaultRT
}

// SetErrorHook implements errhandler.Runtime. The hook only sees levels in
// mask. A nil hook uninstalls.
func (r *Runtime) SetErrorHook(hook errhandler.ErrorHook, mask errhandler.Mask) errhandler.ErrorHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.errHook
	r.errHook = hook
	r.errMask = mask
	return prev
}

// SetExceptionHook implements errhandler.Runtime.
func (r *Runtime) SetExceptionHook(hook errhandler.ExceptionHook) errhandler.ExceptionHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.excHook
	r.excHook = hook
	return prev
}

// RegisterShutdown implements errhandler.Runtime. Hooks run in registration
// order.
func (r *Runtime) RegisterShutdown(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = append(r.shutdown, fn)
}

// ReportingMask implements errhandler.Runtime.
func (r *Runtime) ReportingMask() errhandler.Mask {
	return errhandler.Mask(r.reporting.Load())
}

// SetReportingMask replaces the live reporting mask and returns the old one.
func (r *Runtime) SetReportingMask(m errhandler.Mask) errhandler.Mask {
	return errhandler.Mask(r.reporting.Swap(int64(m)))
}

// LastError implements errhandler.Runtime.
func (r *Runtime) LastError() (errhandler.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return errhandler.Signal{}, false
	}
	return *r.last, true
}

// ClearLastError forgets the last fatal signal.
func (r *Runtime) ClearLastError() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

// Trigger raises an error signal located at the caller. It returns true when
// the error hook handled the signal.
//
// Fatal-class levels are handed to Fatal. An E_USER_ERROR the hook does not
// handle terminates the process.
func (r *Runtime) Trigger(level errhandler.Level, message string) bool {
	file, line := callerLocation(2)
	return r.Raise(errhandler.Signal{Level: level, Message: message, File: file, Line: line})
}

// Raise is Trigger with an explicit signal location.
func (r *Runtime) Raise(sig errhandler.Signal) bool {
	if sig.Level.IsFatal() {
		r.fatal(sig)
		return false
	}

	silenced := r.silenced.Load() > 0
	if !silenced {
		r.mu.Lock()
		hook, mask := r.errHook, r.errMask
		r.mu.Unlock()

		if hook != nil && mask.Has(sig.Level) && hook.HandleError(sig.Level, sig.Message, sig.File, sig.Line) {
			return true
		}
		if r.ReportingMask().Has(sig.Level) {
			r.displaySignal(sig)
		}
	}

	if sig.Level == errhandler.LevelUserError {
		r.terminate(ExitUncaught)
	}
	return false
}

// Fatal raises a fatal signal located at the caller: it becomes the last
// error, the teardown hooks run and the process exits. Non-fatal levels are
// raised as E_ERROR.
func (r *Runtime) Fatal(level errhandler.Level, message string) {
	file, line := callerLocation(2)
	if !level.IsFatal() {
		level = errhandler.LevelError
	}
	r.fatal(errhandler.Signal{Level: level, Message: message, File: file, Line: line})
}

func (r *Runtime) fatal(sig errhandler.Signal) {
	r.mu.Lock()
	r.last = &sig
	r.mu.Unlock()

	if r.silenced.Load() == 0 && r.ReportingMask().Has(sig.Level) {
		r.displaySignal(sig)
	}
	r.terminate(ExitUncaught)
}

// Silence runs fn with signal delivery to the error hook and the default
// display turned off, like an operator-suppressed expression. Fatal signals
// raised inside fn are still recorded.
//
// Silence affects the whole process for the duration of fn: signals raised
// concurrently by other goroutines are dropped too.
func (r *Runtime) Silence(fn func()) {
	r.silenced.Add(1)
	defer r.silenced.Add(-1)
	fn()
}

// Recover handles an uncaught panic. It must be deferred directly:
//
//	defer rt.Recover()
//
// The exception hook receives an *errhandler.PanicError; then the teardown
// hooks run and the process exits with ExitUncaught.
func (r *Runtime) Recover() {
	p := recover()
	if p == nil {
		return
	}
	r.uncaught(p, debug.Stack())
}

// Guard runs fn and treats a panic escaping it as uncaught.
func (r *Runtime) Guard(fn func()) {
	defer r.Recover()
	fn()
}

// Go runs fn in a new goroutine under Guard.
func (r *Runtime) Go(fn func()) {
	go r.Guard(fn)
}

func (r *Runtime) uncaught(p any, stack []byte) {
	exc := &errhandler.PanicError{Value: p, Stack: stack}

	r.mu.Lock()
	hook := r.excHook
	r.mu.Unlock()

	if hook != nil {
		r.callNoPanic("exception hook", func() { hook.HandleException(exc) })
	} else {
		fmt.Fprintf(r.display, "uncaught panic: %v\n%s", p, stack)
	}
	r.terminate(ExitUncaught)
}

// Shutdown runs the teardown hooks once. Later calls do nothing, and a call
// made while the hooks run returns at once, so a hook may call Exit or Fatal.
func (r *Runtime) Shutdown() {
	if r.shuttingDown.Load() {
		return
	}
	r.shutdownOnce.Do(func() {
		r.shuttingDown.Store(true)
		r.mu.Lock()
		hooks := make([]func(), len(r.shutdown))
		copy(hooks, r.shutdown)
		r.mu.Unlock()

		for _, fn := range hooks {
			r.callNoPanic("shutdown hook", fn)
		}
	})
}

// Exit runs the teardown hooks and exits with code.
func (r *Runtime) Exit(code int) {
	r.terminate(code)
}

func (r *Runtime) terminate(code int) {
	r.Shutdown()
	r.logf("exiting with status %d", code)
	r.exit(code)
}

// NotifySignals tears the process down when one of sigs arrives (default:
// SIGINT and SIGTERM where supported). The exit status is 128 plus the
// signal number. The returned stop function stops listening; cancelling ctx
// does the same.
func (r *Runtime) NotifySignals(ctx context.Context, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}

	go func() {
		select {
		case s := <-ch:
			stop()
			r.logf("received %s", s)
			r.Exit(exitCodeFor(s))
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

func exitCodeFor(s os.Signal) int {
	if n, ok := s.(syscall.Signal); ok {
		return 128 + int(n)
	}
	return 1
}

// callNoPanic runs fn; a panic inside it is printed to the display so that
// one failing hook cannot prevent the others from running.
func (r *Runtime) callNoPanic(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(r.display, "panic in %s: %v\n%s", what, p, debug.Stack())
		}
	}()
	fn()
}

func (r *Runtime) displaySignal(sig errhandler.Signal) {
	if sig.File == "" {
		fmt.Fprintf(r.display, "%s: %s\n", sig.Level, sig.Message)
		return
	}
	fmt.Fprintf(r.display, "%s: %s in %s on line %d\n", sig.Level, sig.Message, sig.File, sig.Line)
}

func (r *Runtime) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("procrt: "+format, args...)
	}
}

func callerLocation(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0
	}
	return file, line
}
