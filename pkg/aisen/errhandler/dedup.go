// dedup.go remembers the last fatal signal seen by the live error hook.

package errhandler

import "sync"

// Deduplicator holds the last fatal-class signal delivered to the live error
// hook so the teardown hook does not report it a second time.
// It is safe for concurrent use.
type Deduplicator struct {
	mu   sync.Mutex
	last Signal
	set  bool
}

// RecordIfFatal stores sig when its level is fatal-class, replacing any
// earlier snapshot. Non-fatal signals are ignored.
func (d *Deduplicator) RecordIfFatal(sig Signal) {
	if !sig.Level.IsFatal() {
		return
	}
	d.mu.Lock()
	d.last = sig
	d.set = true
	d.mu.Unlock()
}

// IsDuplicateOfLast reports whether sig equals the stored snapshot.
func (d *Deduplicator) IsDuplicateOfLast(sig Signal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set && d.last == sig
}
