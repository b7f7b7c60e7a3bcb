package procrt

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// testClient captures errors delivered by the handler.
type testClient struct {
	mu     sync.Mutex
	errors []error
}

func (c *testClient) Capture(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testClient) getErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]error, len(c.errors))
	copy(result, c.errors)
	return result
}

// exitRecorder replaces os.Exit.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) getCodes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newTestRuntime(t *testing.T) (*Runtime, *exitRecorder, *bytes.Buffer) {
	t.Helper()
	exits := &exitRecorder{}
	display := &bytes.Buffer{}
	return New(WithExit(exits.exit), WithDisplay(display)), exits, display
}

// existingHook counts calls, like an application hook installed before the
// handler.
type existingHook struct {
	calls int
}

func (h *existingHook) HandleError(level errhandler.Level, message, file string, line int) bool {
	h.calls++
	return true
}

func TestErrorHandlerPassesWithExplicitAllMask(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}

	errhandler.NewHandler(client, rt).RegisterErrorHandler(false, errhandler.MaskAll)

	rt.SetReportingMask(errhandler.MaskOf(errhandler.LevelUserWarning))
	rt.Trigger(errhandler.LevelUserWarning, "Warning")

	assert.Len(t, client.getErrors(), 1)
}

func TestErrorHandlerSuppressedByMaskDoesNotCapture(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}
	existing := &existingHook{}
	rt.SetErrorHook(existing, errhandler.MaskAll)

	errhandler.NewHandler(client, rt).RegisterErrorHandler(true, errhandler.MaskOf(errhandler.LevelDeprecated))

	rt.SetReportingMask(errhandler.MaskOf(errhandler.LevelUserWarning))
	rt.Trigger(errhandler.LevelUserWarning, "Warning")

	assert.Empty(t, client.getErrors())
}

func TestErrorHandlerRespectsLiveDefaultMask(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}
	existing := &existingHook{}
	rt.SetErrorHook(existing, errhandler.MaskAll)

	rt.SetReportingMask(errhandler.MaskOf(errhandler.LevelDeprecated))
	errhandler.NewHandler(client, rt).RegisterErrorHandler(true, errhandler.MaskDefault)

	rt.SetReportingMask(errhandler.MaskAll)
	handled := rt.Trigger(errhandler.LevelUserWarning, "Warning")

	assert.True(t, handled)
	assert.Len(t, client.getErrors(), 1)
	assert.Equal(t, 1, existing.calls)
}

func TestErrorHandlerDefaultsToLiveMask(t *testing.T) {
	rt, _, display := newTestRuntime(t)
	client := &testClient{}

	rt.SetReportingMask(errhandler.MaskOf(errhandler.LevelUserError))
	errhandler.NewHandler(client, rt).RegisterErrorHandler(false, errhandler.MaskDefault)

	rt.Trigger(errhandler.LevelUserWarning, "Warning")

	assert.Empty(t, client.getErrors())
	assert.Empty(t, display.String(), "signal outside the live mask is not displayed either")
}

func TestSilencedErrorsAreNotReportedWithDefaultMask(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}

	h := errhandler.NewHandler(client, rt).RegisterErrorHandler(true, errhandler.MaskDefault)

	rt.Silence(func() {
		rt.Trigger(errhandler.LevelWarning, "Undefined variable $undefined")
	})
	h.HandleFatalError()

	assert.Empty(t, client.getErrors())
}

func TestSilencedErrorsAreNotReportedWithExplicitMask(t *testing.T) {
	rt, _, display := newTestRuntime(t)
	client := &testClient{}

	h := errhandler.NewHandler(client, rt).RegisterErrorHandler(true, errhandler.MaskAll)

	rt.Silence(func() {
		rt.Trigger(errhandler.LevelWarning, "Undefined array key 2")
	})
	h.HandleFatalError()

	assert.Empty(t, client.getErrors())
	assert.Empty(t, display.String())
}

func TestSilenceCoversOtherGoroutines(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}
	errhandler.NewHandler(client, rt).RegisterErrorHandler(false, errhandler.MaskAll)

	rt.Silence(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			rt.Trigger(errhandler.LevelWarning, "raised elsewhere")
		}()
		<-done
	})
	rt.Trigger(errhandler.LevelWarning, "after silence")

	errs := client.getErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "after silence")
}

func TestHandleFatalErrorReportsLastFatal(t *testing.T) {
	rt, exits, _ := newTestRuntime(t)
	client := &testClient{}
	h := errhandler.NewHandler(client, rt)

	rt.Silence(func() {
		rt.Fatal(errhandler.LevelCompileError, "Cannot redeclare f()")
	})
	require.Equal(t, []int{ExitUncaught}, exits.getCodes())

	h.HandleFatalError()

	errs := client.getErrors()
	require.Len(t, errs, 1)
	var ee *errhandler.ErrorException
	require.True(t, errors.As(errs[0], &ee))
	assert.Equal(t, errhandler.LevelCompileError, ee.Level)
	assert.True(t, strings.HasSuffix(ee.File, "runtime_test.go"), "file = %s", ee.File)
	assert.NotZero(t, ee.Line)
}

func TestHandleFatalErrorDuplicate(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}
	h := errhandler.NewHandler(client, rt)

	rt.Silence(func() {
		rt.Fatal(errhandler.LevelError, "Allowed memory size exhausted")
	})
	last, ok := rt.LastError()
	require.True(t, ok)

	h.HandleError(last.Level, last.Message, last.File, last.Line)
	h.HandleFatalError()

	assert.Len(t, client.getErrors(), 1)
}

func TestShutdownHandlerRunsOnFatal(t *testing.T) {
	rt, exits, display := newTestRuntime(t)
	client := &testClient{}
	errhandler.NewHandler(client, rt).
		RegisterErrorHandler(false, errhandler.MaskDefault).
		RegisterShutdownHandler()

	rt.Fatal(errhandler.LevelCoreError, "core failure")

	assert.Len(t, client.getErrors(), 1, "teardown hook reports the fatal signal")
	assert.Equal(t, []int{ExitUncaught}, exits.getCodes())
	assert.Contains(t, display.String(), "E_CORE_ERROR: core failure in ")
}

func TestShutdownHandlerSkipsFatalOutsideLiveMask(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	client := &testClient{}
	errhandler.NewHandler(client, rt).RegisterShutdownHandler()

	rt.SetReportingMask(errhandler.MaskAll.Without(errhandler.LevelError))
	rt.Fatal(errhandler.LevelError, "out of memory")

	assert.Empty(t, client.getErrors())
}

func TestShutdownRunsOnce(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	calls := 0
	rt.RegisterShutdown(func() { calls++ })

	rt.Shutdown()
	rt.Exit(0)
	rt.Shutdown()

	assert.Equal(t, 1, calls)
}

func TestShutdownHookMayExit(t *testing.T) {
	rt, exits, _ := newTestRuntime(t)
	var order []string
	rt.RegisterShutdown(func() {
		order = append(order, "exit")
		rt.Exit(3)
	})
	rt.RegisterShutdown(func() {
		order = append(order, "fatal")
		rt.Fatal(errhandler.LevelError, "teardown failed")
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Shutdown()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	assert.Equal(t, []string{"exit", "fatal"}, order)
	assert.Equal(t, []int{3, ExitUncaught}, exits.getCodes())
}

func TestShutdownHookPanicDoesNotStopOthers(t *testing.T) {
	rt, _, display := newTestRuntime(t)
	var order []string
	rt.RegisterShutdown(func() { order = append(order, "first") })
	rt.RegisterShutdown(func() { panic("bad hook") })
	rt.RegisterShutdown(func() { order = append(order, "third") })

	rt.Shutdown()

	assert.Equal(t, []string{"first", "third"}, order)
	assert.Contains(t, display.String(), "panic in shutdown hook: bad hook")
}

func TestUncaughtPanicReachesExceptionHook(t *testing.T) {
	rt, exits, _ := newTestRuntime(t)
	client := &testClient{}
	errhandler.NewHandler(client, rt).RegisterExceptionHandler(false)

	rt.Guard(func() {
		panic(errors.New("nil map write"))
	})

	errs := client.getErrors()
	require.Len(t, errs, 1)
	var ee *errhandler.ErrorException
	require.True(t, errors.As(errs[0], &ee))
	assert.Equal(t, "*errors.errorString", ee.Kind)
	assert.Equal(t, "nil map write", ee.Message)
	assert.Contains(t, ee.StackTrace(), "goroutine")
	assert.Equal(t, []int{ExitUncaught}, exits.getCodes())
}

func TestUncaughtPanicWithoutHookIsDisplayed(t *testing.T) {
	rt, exits, display := newTestRuntime(t)

	rt.Guard(func() {
		panic("boom")
	})

	assert.Contains(t, display.String(), "uncaught panic: boom")
	assert.Equal(t, []int{ExitUncaught}, exits.getCodes())
}

func TestGoRecoversInGoroutine(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	done := make(chan any, 1)
	rt.SetExceptionHook(errhandler.ExceptionHookFunc(func(exc any) { done <- exc }))

	rt.Go(func() { panic("background") })

	exc := <-done
	pe, ok := exc.(*errhandler.PanicError)
	require.True(t, ok)
	assert.Equal(t, "background", pe.Value)
}

func TestUnhandledSignalIsDisplayed(t *testing.T) {
	rt, exits, display := newTestRuntime(t)

	handled := rt.Raise(errhandler.Signal{Level: errhandler.LevelNotice, Message: "note", File: "a.go", Line: 3})

	assert.False(t, handled)
	assert.Equal(t, "E_NOTICE: note in a.go on line 3\n", display.String())
	assert.Empty(t, exits.getCodes())
}

func TestUnhandledUserErrorTerminates(t *testing.T) {
	rt, exits, _ := newTestRuntime(t)

	rt.Trigger(errhandler.LevelUserError, "cannot continue")

	assert.Equal(t, []int{ExitUncaught}, exits.getCodes())
	_, ok := rt.LastError()
	assert.False(t, ok, "user errors are not fatal-class")
}

func TestErrorHookMaskLimitsDelivery(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	hook := &existingHook{}
	rt.SetErrorHook(hook, errhandler.MaskOf(errhandler.LevelWarning))

	rt.Trigger(errhandler.LevelNotice, "n")
	rt.Trigger(errhandler.LevelWarning, "w")

	assert.Equal(t, 1, hook.calls)
}

func TestTriggerRecordsCallerLocation(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	var got errhandler.Signal
	rt.SetErrorHook(errhandler.ErrorHookFunc(func(level errhandler.Level, message, file string, line int) bool {
		got = errhandler.Signal{Level: level, Message: message, File: file, Line: line}
		return true
	}), errhandler.MaskAll)

	rt.Trigger(errhandler.LevelUserNotice, "here")

	assert.True(t, strings.HasSuffix(got.File, "runtime_test.go"), "file = %s", got.File)
	assert.NotZero(t, got.Line)
}

func TestClearLastError(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	rt.Silence(func() { rt.Fatal(errhandler.LevelParse, "unexpected EOF") })

	_, ok := rt.LastError()
	require.True(t, ok)

	rt.ClearLastError()
	_, ok = rt.LastError()
	assert.False(t, ok)
}

func TestFatalCoercesNonFatalLevel(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	rt.Silence(func() { rt.Fatal(errhandler.LevelWarning, "w") })

	last, ok := rt.LastError()
	require.True(t, ok)
	assert.Equal(t, errhandler.LevelError, last.Level)
}

func TestSetReportingMaskReturnsPrevious(t *testing.T) {
	rt := New(WithReportingMask(errhandler.MaskFatal))

	prev := rt.SetReportingMask(errhandler.MaskAll)

	assert.Equal(t, errhandler.MaskFatal, prev)
	assert.Equal(t, errhandler.MaskAll, rt.ReportingMask())
}
