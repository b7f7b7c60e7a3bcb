// event.go defines ErrorEvent, the record every sink receives.

package aisen

import (
	"time"

	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// Severity buckets events for alerting.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	// SeverityCrash covers panics and fatal-class levels.
	SeverityCrash Severity = "crash"
)

// SeverityForLevel maps a runtime error level onto an event severity:
// fatal-class levels crash, E_USER_ERROR and E_RECOVERABLE_ERROR are errors,
// and the rest are warnings.
func SeverityForLevel(level errhandler.Level) Severity {
	switch {
	case level.IsFatal():
		return SeverityCrash
	case level == errhandler.LevelUserError, level == errhandler.LevelRecoverableError:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// SystemState is a snapshot of the reporting process.
type SystemState struct {
	MemoryBytes    int64 // heap bytes in use
	GoroutineCount int
	UptimeMs       int64
	HostName       string
	PID            int
	NumGC          uint32 // completed GC cycles
	GoVersion      string
}

// ErrorEvent is one captured error signal, exception or panic. The Client
// fills the error fields, the Collector adds EventID, Timestamp and
// Fingerprint and scrubs the free-text fields before any sink sees it.
type ErrorEvent struct {
	EventID     string // UUID; also the cxdb idempotency key
	Timestamp   time.Time
	Fingerprint string // groups events with the same origin

	Severity Severity

	// ErrorType is "ErrorException" for runtime error signals, "panic" for
	// plain panic values, or the declared kind of an exception.
	ErrorType string

	// Level is the runtime level name (E_WARNING, E_USER_ERROR, ...).
	Level   string
	Message string

	// File and Line locate the error when the runtime knows where it was
	// raised. Line is 0 when unknown.
	File string
	Line int

	StackTrace string

	// Operation names the work in progress: an HTTP route, an agent run.
	Operation string

	// ContextID links the event to a cxdb conversation. Nil means unlinked;
	// zero is a valid ID.
	ContextID *uint64

	SystemState *SystemState
	Metadata    map[string]string
}
