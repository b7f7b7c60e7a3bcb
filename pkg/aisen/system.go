// system.go snapshots process state for crash and error events.

package aisen

import (
	"os"
	"runtime"
	"sync"
	"time"
)

var hostName = sync.OnceValue(func() string {
	name, _ := os.Hostname()
	return name
})

// CaptureSystemState snapshots memory, goroutines and GC activity. Uptime is
// measured from startTime and never negative.
func CaptureSystemState(startTime time.Time) *SystemState {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &SystemState{
		MemoryBytes:    int64(mem.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       max(time.Since(startTime).Milliseconds(), 0),
		HostName:       hostName(),
		PID:            os.Getpid(),
		NumGC:          mem.NumGC,
		GoVersion:      runtime.Version(),
	}
}
