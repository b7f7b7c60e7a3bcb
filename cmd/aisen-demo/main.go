// Command aisen-demo serves a small HTTP API whose errors, panics and fatal
// signals are reported through aisen.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/strongdm/aisen-errhook/internal/config"
	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler/procrt"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/prom"
)

func main() {
	configPath := flag.String("config", "configs/aisen-demo.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to environment file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	start := time.Now()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("Failed to load environment", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.SlogLevel()
	if *isDebug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Info("Logger initialized", "level", level.String())

	if err := run(cfg, handler, start); err != nil {
		logger.Error("aisen-demo failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logHandler slog.Handler, start time.Time) error {
	logger := slog.New(logHandler)
	warnLog := slog.NewLogLogger(logHandler, slog.LevelWarn)
	debugLog := slog.NewLogLogger(logHandler, slog.LevelDebug)

	reportingMask, liveMask, err := cfg.Handler.Masks()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *prom.Metrics
	if cfg.Sinks.Metrics.Enabled {
		metrics = prom.NewMetrics(registry)
	}

	sink, closeSinks, err := buildSink(cfg.Sinks, metrics, logger)
	if err != nil {
		return err
	}

	collector := aisen.NewCollector(
		aisen.WithSink(sink),
		aisen.WithScrubber(cfg.Scrubbing.Scrubber()),
		aisen.WithTags(cfg.Tags),
	)
	client := aisen.NewClient(collector,
		aisen.WithLogger(warnLog),
		aisen.WithStartTime(start),
		aisen.WithCaptureTimeout(cfg.Handler.CaptureTimeout),
	)

	rt := procrt.New(
		procrt.WithReportingMask(liveMask),
		procrt.WithLogger(debugLog),
	)
	errHandler := errhandler.NewHandler(client, rt, errhandler.WithLogger(debugLog)).
		RegisterErrorHandler(cfg.Handler.PropagateErrors, reportingMask).
		RegisterExceptionHandler(cfg.Handler.PropagateExceptions).
		RegisterShutdownHandler()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg, rt, errHandler, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Teardown hooks run in registration order, after the fatal-error
	// report registered above.
	tearingDown := make(chan struct{})
	rt.RegisterShutdown(func() {
		close(tearingDown)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		if err := client.Flush(ctx); err != nil {
			logger.Warn("Failed to flush error events", "error", err)
		}
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close collector", "error", err)
		}
		closeSinks()
		logger.Info("Shutdown complete")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := rt.NotifySignals(ctx)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	code := 0
	if err := g.Wait(); err != nil {
		logger.Error("HTTP server failed", "error", err)
		code = 1
	}
	exitAfterServe(rt, tearingDown, code)
	return nil
}

// exitAfterServe ends the process through the runtime once the server has
// stopped. When teardown is already running, a signal or fatal error closed
// the server and the runtime exits with its own status, so it blocks.
func exitAfterServe(rt interface{ Exit(code int) }, tearingDown <-chan struct{}, code int) {
	select {
	case <-tearingDown:
		select {}
	default:
	}
	rt.Exit(code)
}
