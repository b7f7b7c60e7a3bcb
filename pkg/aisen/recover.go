// recover.go covers goroutines that run outside procrt.Runtime.Guard, such as
// background workers that must keep the process alive after a panic.

package aisen

import (
	"context"
	"runtime/debug"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// Recover records a panic as a crash event and stops it. It must be deferred
// directly:
//
//	go func() {
//	    defer aisen.Recover(ctx, collector)
//	    drainQueue(ctx)
//	}()
//
// The event takes its operation and context ID from ctx. Record errors are
// dropped. It returns the recovered value, or nil without a panic.
func Recover(ctx context.Context, collector Collector) any {
	r := recover()
	if r == nil {
		return nil
	}
	_ = collector.Record(ctx, EventFromError(ctx, &errhandler.PanicError{Value: r, Stack: debug.Stack()}))
	return r
}
