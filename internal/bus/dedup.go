package bus

import (
	"sync"
	"time"
)

// Deduper remembers recently seen event ids so a redelivered event does
// not trigger a second outbound emission. Entries age out after the
// window; at-least-once redelivery happens within the consumer's ack
// window, which is far shorter.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewDeduper creates a Deduper with the given retention window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Seen marks id as observed and reports whether it had already been
// observed within the window.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = now
	return false
}

func (d *Deduper) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.window)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered ids.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
