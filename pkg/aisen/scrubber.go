// scrubber.go redacts secrets and personal data from events before they are
// written. Error messages built by fmt.Errorf often embed DSNs, query strings
// or request bodies, so messages, metadata, file paths and stacks are all
// scrubbed. On a scrub failure the value is replaced, never passed through.

package aisen

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	redacted       = "[REDACTED]"
	redactedFailed = "[REDACTED:SCRUB_ERROR]"
	truncated      = "...[TRUNCATED]"
	pathMarker     = "/[PATH]/"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitiveKeys are extra case-insensitive substrings that mark a metadata
	// key as sensitive, on top of the built-in list.
	SensitiveKeys []string

	// MaxMessageSize caps error messages and plain metadata values (default: 4096).
	MaxMessageSize int

	// MaxStackTraceSize caps stack traces (default: 32768).
	MaxStackTraceSize int

	// MaxMetadataSize caps a JSON metadata value after scrubbing (default: 16384).
	MaxMetadataSize int

	// MaxMetadataKeySize caps a single plain metadata value (default: 1024).
	MaxMetadataKeySize int

	// ScrubMessages turns on pattern redaction of free text (default: true).
	ScrubMessages bool

	// FailClosed replaces values that cannot be scrubbed with a marker
	// instead of keeping them (default: true).
	FailClosed bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize:     4096,
		MaxStackTraceSize:  32768,
		MaxMetadataSize:    16384,
		MaxMetadataKeySize: 1024,
		ScrubMessages:      true,
		FailClosed:         true,
	}
}

var (
	// secretPatterns match values that are redacted wherever they appear in
	// free text.
	secretPatterns = compileAll(
		// key=value credentials
		`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`,
		`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`,
		`(?i)(password|passwd|secret|credential)[=:\s]+['"]?[^\s'",]+['"]?`,

		// vendor token formats
		`(?i)sk-[a-zA-Z0-9_-]{20,}`,
		`(?i)gh[po]_[a-zA-Z0-9]{36}`,
		`(?i)github_pat_[a-zA-Z0-9_]{22,}`,
		`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`,
		`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,

		// personal data: email, US SSN, card numbers
		`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		`\b\d{3}-\d{2}-\d{4}\b`,
		`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`,
	)

	// userDirPatterns match the per-user prefix of source paths.
	userDirPatterns = compileAll(
		`/home/[^/]+/`,
		`/Users/[^/]+/`,
		`C:\\Users\\[^\\]+\\`,
		`/tmp/[^/]+/`,
	)

	hexAddr = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// builtinSensitiveKeys mark a metadata key as sensitive when it contains one
// of them, case-insensitively.
var builtinSensitiveKeys = []string{"token", "key", "secret", "password", "passwd", "credential", "auth"}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Scrubber redacts sensitive data from error events. It is safe for
// concurrent use.
type Scrubber struct {
	cfg  ScrubberConfig
	keys []string
}

// NewScrubber creates a Scrubber with cfg.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	keys := append([]string(nil), builtinSensitiveKeys...)
	for _, k := range cfg.SensitiveKeys {
		if k != "" {
			keys = append(keys, strings.ToLower(k))
		}
	}
	return &Scrubber{cfg: cfg, keys: keys}
}

// ScrubEvent scrubs the message, stack trace, file and metadata of event.
// Identity, level and line fields are left alone.
func (s *Scrubber) ScrubEvent(event ErrorEvent) ErrorEvent {
	event.Message = s.ScrubMessage(event.Message)
	event.StackTrace = s.ScrubStackTrace(event.StackTrace)
	event.File = s.ScrubPath(event.File)
	event.Metadata = s.ScrubMetadata(event.Metadata)
	return event
}

// ScrubMessage truncates msg to MaxMessageSize and redacts secret patterns.
// With ScrubMessages off it returns msg unchanged.
func (s *Scrubber) ScrubMessage(msg string) string {
	if !s.cfg.ScrubMessages {
		return msg
	}
	msg = truncate(msg, s.cfg.MaxMessageSize)
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, redacted)
	}
	return msg
}

// ScrubMetadata returns a scrubbed copy of meta. Values under sensitive keys
// are replaced, JSON values are scrubbed field by field and other values are
// scrubbed as messages.
func (s *Scrubber) ScrubMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch {
		case s.sensitive(k):
			out[k] = redacted
		case isJSONContainer(v):
			out[k] = s.ScrubJSON(v)
		default:
			out[k] = truncate(s.ScrubMessage(v), s.cfg.MaxMetadataKeySize)
		}
	}
	return out
}

// ScrubPath replaces user home and temp directories in path.
func (s *Scrubber) ScrubPath(path string) string {
	for _, re := range userDirPatterns {
		path = re.ReplaceAllString(path, pathMarker)
	}
	return path
}

// ScrubStackTrace scrubs paths, masks pointer arguments and caps the size.
func (s *Scrubber) ScrubStackTrace(trace string) string {
	if trace == "" {
		return ""
	}
	trace = hexAddr.ReplaceAllString(s.ScrubPath(trace), "0x...")
	return truncate(trace, s.cfg.MaxStackTraceSize)
}

// ScrubJSON scrubs a JSON document: sensitive keys are redacted at any depth
// and strings are scrubbed as messages. Input that does not parse becomes
// "[REDACTED:SCRUB_ERROR]" when FailClosed is set.
func (s *Scrubber) ScrubJSON(doc string) string {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return s.failed(doc)
	}
	b, err := json.Marshal(s.scrubValue(v))
	if err != nil {
		return s.failed(doc)
	}
	limit := s.cfg.MaxMetadataSize
	if limit <= 0 {
		limit = DefaultScrubberConfig().MaxMetadataSize
	}
	return truncate(string(b), limit)
}

func (s *Scrubber) scrubValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			if s.sensitive(k) {
				v[k] = redacted
			} else {
				v[k] = s.scrubValue(child)
			}
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = s.scrubValue(child)
		}
		return v
	case string:
		return s.ScrubMessage(v)
	default:
		return v
	}
}

func (s *Scrubber) failed(original string) string {
	if s.cfg.FailClosed {
		return redactedFailed
	}
	return original
}

func (s *Scrubber) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range s.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func isJSONContainer(v string) bool {
	v = strings.TrimSpace(v)
	if len(v) < 2 {
		return false
	}
	first, last := v[0], v[len(v)-1]
	return first == '{' && last == '}' || first == '[' && last == ']'
}

// truncate caps s at limit bytes, marker included. A non-positive limit
// disables the cap.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= len(truncated) {
		return truncated[:limit]
	}
	return s[:limit-len(truncated)] + truncated
}
