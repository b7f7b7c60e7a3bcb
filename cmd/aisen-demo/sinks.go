package main

import (
	"fmt"
	"log/slog"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	"golang.org/x/time/rate"

	"github.com/strongdm/aisen-errhook/internal/config"
	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/async"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/cxdb"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/multi"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/prom"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/ratelimit"
	"github.com/strongdm/aisen-errhook/pkg/aisen/sinks/stderr"
)

// buildSink composes the configured sinks:
//
//	ratelimit -> async -> prom -> multi(stderr, cxdb)
//
// The returned close function releases connections the sinks do not own.
func buildSink(cfg config.SinksConfig, metrics *prom.Metrics, logger *slog.Logger) (aisen.Sink, func(), error) {
	var dests []aisen.Sink
	closeFn := func() {}

	if cfg.Stderr.Enabled {
		var opts []stderr.StderrSinkOption
		if cfg.Stderr.Verbose {
			opts = append(opts, stderr.WithVerbose())
		}
		dests = append(dests, stderr.NewStderrSink(opts...))
	}

	if cfg.CXDB.Addr != "" {
		client, err := cxdbclient.Dial(cfg.CXDB.Addr, cxdbclient.WithClientTag(cfg.CXDB.ClientTag))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to cxdb at %s: %w", cfg.CXDB.Addr, err)
		}
		closeFn = func() { client.Close() }
		logger.Info("Connected to cxdb", "addr", cfg.CXDB.Addr)

		opts := []cxdb.CXDBSinkOption{cxdb.WithClientTag(cfg.CXDB.ClientTag)}
		if len(cfg.CXDB.OrphanLabels) > 0 {
			opts = append(opts, cxdb.WithOrphanLabels(cfg.CXDB.OrphanLabels))
		}
		if cfg.CXDB.SharedOrphanContext {
			opts = append(opts, cxdb.WithSharedOrphanContext())
		}
		dests = append(dests, cxdb.NewCXDBSink(client, opts...))
	}

	if len(dests) == 0 {
		logger.Warn("No destination sink enabled; error events are discarded")
	}
	sink := multi.NewMultiSink(dests...)

	if metrics != nil {
		sink = prom.NewPromSink(sink, metrics)
	}

	if cfg.Async.Enabled {
		opts := []async.AsyncSinkOption{
			async.WithOnError(func(err error) {
				logger.Warn("Async sink write failed", "error", err)
			}),
			async.WithOnDropped(func(count int) {
				logger.Warn("Async queue full, dropped events", "count", count)
				if metrics != nil {
					for range count {
						metrics.ObserveDrop("queue_full")
					}
				}
			}),
		}
		if cfg.Async.QueueSize > 0 {
			opts = append(opts, async.WithQueueSize(cfg.Async.QueueSize))
		}
		if cfg.Async.FlushInterval > 0 {
			opts = append(opts, async.WithFlushInterval(cfg.Async.FlushInterval))
		}
		sink = async.NewAsyncSink(sink, opts...)
	}

	if rl := cfg.RateLimit; rl.PerSecond > 0 || rl.PerFingerprint > 0 {
		limit, burst := rate.Inf, 0
		if rl.PerSecond > 0 {
			limit, burst = rate.Limit(rl.PerSecond), rl.Burst
		}
		opts := []ratelimit.Option{
			ratelimit.WithOnDropped(func(event aisen.ErrorEvent, reason ratelimit.Reason) {
				logger.Debug("Rate limited error event", "fingerprint", event.Fingerprint, "reason", reason)
				if metrics != nil {
					metrics.ObserveDrop(string(reason))
				}
			}),
		}
		if rl.PerFingerprint > 0 {
			opts = append(opts, ratelimit.WithPerFingerprint(rate.Limit(rl.PerFingerprint), rl.FingerprintBurst))
		}
		if rl.MaxFingerprints > 0 {
			opts = append(opts, ratelimit.WithMaxFingerprints(rl.MaxFingerprints))
		}
		sink = ratelimit.NewRateLimitedSink(sink, limit, burst, opts...)
	}

	return sink, closeFn, nil
}
