// Package aisen turns runtime errors, uncaught panics and fatal signals into
// error events and delivers them to pluggable sinks.
//
// The errhandler package decides what gets reported: it filters signals by
// level against a reporting mask, normalizes them into ErrorExceptions,
// deduplicates fatal signals seen at teardown and chains to hooks installed
// before it. aisen is the delivery side: a Client receives each normalized
// error and records it as an ErrorEvent through a Collector.
//
// # Core Components
//
//   - ErrorEvent: The canonical error representation with severity, level, location and metadata
//   - Client: Capture sink for an errhandler.Handler; builds events from errors
//   - Collector: Applies scrubbing, tags and fingerprinting before persistence
//   - Sink: Destination for error events (stderr, cxdb, async, multi, ratelimit, prom)
//   - Scrubber: Redacts sensitive data with fail-closed behavior
//   - Annotate: Attaches operation, cxdb context ID and tags to an error
//
// # Quick Start
//
//	collector := aisen.NewCollector(
//	    aisen.WithSink(stderr.NewStderrSink()),
//	    aisen.WithDefaultScrubbing(),
//	)
//	client := aisen.NewClient(collector)
//
//	rt := procrt.Default()
//	errhandler.NewHandler(client, rt).
//	    RegisterErrorHandler(false, errhandler.MaskDefault).
//	    RegisterExceptionHandler(false).
//	    RegisterShutdownHandler()
//	rt.RegisterShutdown(func() { _ = client.Flush(context.Background()) })
//
// For goroutines outside the runtime's guard:
//
//	defer aisen.Recover(ctx, collector)
//
// # Design Principles
//
//   - Capture never fails the caller: collector errors are swallowed and logged
//   - Fail-closed scrubbing: on any error, fields are fully redacted (never persist raw data)
//   - Request context travels on the error (Annotate), since handler hooks carry none
package aisen
