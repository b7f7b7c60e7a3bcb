// fingerprint.go groups events that come from the same fault.

package aisen

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintFrames is how many application frames identify a fault.
const fingerprintFrames = 3

// Frames of the Go runtime and of the capture path itself say nothing about
// where a fault came from.
var skippedFramePrefixes = []string{
	"runtime.",
	"runtime/debug.",
	"github.com/strongdm/aisen-errhook/pkg/aisen.",
	"github.com/strongdm/aisen-errhook/pkg/aisen/",
}

// Fingerprint hashes the parts of an event that stay the same each time one
// fault recurs: error type, level, file, operation and the top application
// frames of the stack. Messages, line numbers and addresses are left out.
// Error signals usually carry no stack, so their file is what separates one
// call site from another.
func Fingerprint(event ErrorEvent) string {
	h := sha256.New()
	for i, part := range append([]string{
		event.ErrorType,
		event.Level,
		event.File,
		event.Operation,
	}, normalizeStackTrace(event.StackTrace)...) {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// normalizeStackTrace returns the function names of the first application
// frames of a goroutine dump, without arguments.
func normalizeStackTrace(trace string) []string {
	if trace == "" {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(trace, "\n") {
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ") {
			continue // file:line +offset
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "created by ") {
			continue
		}
		if strings.HasPrefix(line, "/") || strings.HasPrefix(line, "...") {
			continue
		}

		fn := funcName(line)
		if fn == "" || skippedFrame(fn) {
			continue
		}
		frames = append(frames, fn)
		if len(frames) == fingerprintFrames {
			break
		}
	}
	return frames
}

// funcName strips the argument list from a frame line:
// "pkg.(*T).Method(0xc000012345, ...)" becomes "pkg.(*T).Method".
func funcName(line string) string {
	if !strings.HasSuffix(line, ")") {
		return ""
	}
	i := strings.LastIndex(line, "(")
	if i <= 0 {
		return ""
	}
	return line[:i]
}

func skippedFrame(fn string) bool {
	for _, p := range skippedFramePrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return fn == "panic"
}
