package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strongdm/aisen-errhook/internal/config"
	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler/procrt"
	"github.com/strongdm/aisen-errhook/pkg/aisen/httpx"
)

func newRouter(cfg *config.Config, rt *procrt.Runtime, hook errhandler.ExceptionHook, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.Recoverer(hook))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok\n")
	})
	if cfg.Sinks.Metrics.Enabled {
		r.Handle(cfg.Sinks.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.With(httpx.Operation).Post("/trigger/{level}", triggerHandler(rt))
	r.With(httpx.Operation).Post("/report", reportHandler(hook))
	r.With(httpx.Operation).Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic(fmt.Sprintf("demo panic: %s", r.URL.Query().Get("reason")))
	})
	return r
}

type triggerResponse struct {
	Level   string `json:"level"`
	Handled bool   `json:"handled"`
	Exiting bool   `json:"exiting,omitempty"`
}

// triggerHandler raises an error signal of the requested level.
// ?silence=1 raises it with delivery suppressed. Levels that end the process
// are raised after the response is written.
func triggerHandler(rt *procrt.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevel(chi.URLParam(r, "level"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		message := r.URL.Query().Get("message")
		if message == "" {
			message = "triggered over HTTP"
		}

		if level.IsFatal() || level == errhandler.LevelUserError {
			writeJSON(w, http.StatusAccepted, triggerResponse{Level: level.String(), Exiting: true})
			go rt.Raise(errhandler.Signal{Level: level, Message: message})
			return
		}

		var handled bool
		if r.URL.Query().Get("silence") == "1" {
			rt.Silence(func() { handled = rt.Trigger(level, message) })
		} else {
			handled = rt.Trigger(level, message)
		}
		writeJSON(w, http.StatusOK, triggerResponse{Level: level.String(), Handled: handled})
	}
}

// reportHandler reports a handled error with the request's operation.
func reportHandler(hook errhandler.ExceptionHook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil || len(body) == 0 {
			http.Error(w, "request body must carry an error message", http.StatusBadRequest)
			return
		}
		hook.HandleException(aisen.Annotate(r.Context(), errors.New(string(body)), map[string]string{
			"request_id": middleware.GetReqID(r.Context()),
		}))
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseLevel accepts a single level name such as "warning" or "E_USER_NOTICE".
func parseLevel(name string) (errhandler.Level, error) {
	m, err := errhandler.ParseMask(name)
	if err != nil {
		return 0, err
	}
	if m == errhandler.MaskDefault || m == 0 || m&(m-1) != 0 {
		return 0, fmt.Errorf("%q is not a single level", name)
	}
	return errhandler.Level(m), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
