// Package httpx reports panics in HTTP handlers to an errhandler exception
// hook and answers the request with a 500.
package httpx

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// Recoverer returns middleware that recovers panics from the next handler
// and hands them to hook as an annotated *errhandler.PanicError. The
// operation is "<METHOD> <route pattern>" when routed by chi, otherwise
// "<METHOD> <path>".
//
// http.ErrAbortHandler is re-panicked so net/http can abort the response
// as it expects.
func Recoverer(hook errhandler.ExceptionHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(p)
				}

				exc := &errhandler.PanicError{Value: p, Stack: debug.Stack()}
				ctx := aisen.WithOperation(r.Context(), operation(r))
				hook.HandleException(aisen.Annotate(ctx, exc, map[string]string{
					"http.method": r.Method,
					"http.path":   r.URL.Path,
				}))

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Operation is middleware that names the request's operation in its
// context, so errors annotated below it carry the route. The chi route
// pattern is only complete once routing is done: install it with
// chi.Router.With on the routes themselves, not on the root router.
func Operation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := aisen.WithOperation(r.Context(), operation(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func operation(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}
