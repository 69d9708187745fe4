package bus

import (
	"testing"
	"time"
)

func TestDeduper(t *testing.T) {
	t.Run("first sighting is not a duplicate", func(t *testing.T) {
		d := NewDeduper(time.Minute)
		if d.Seen("evt-1") {
			t.Error("first sighting reported as seen")
		}
		if !d.Seen("evt-1") {
			t.Error("second sighting not reported as seen")
		}
	})

	t.Run("distinct ids do not collide", func(t *testing.T) {
		d := NewDeduper(time.Minute)
		d.Seen("evt-1")
		if d.Seen("evt-2") {
			t.Error("unrelated id reported as seen")
		}
	})

	t.Run("entries age out after the window", func(t *testing.T) {
		now := time.Now()
		d := NewDeduper(time.Minute)
		d.now = func() time.Time { return now }

		d.Seen("evt-1")

		now = now.Add(2 * time.Minute)
		if d.Seen("evt-1") {
			t.Error("expired entry still reported as seen")
		}
	})

	t.Run("pruning drops only stale entries", func(t *testing.T) {
		now := time.Now()
		d := NewDeduper(time.Minute)
		d.now = func() time.Time { return now }

		d.Seen("old")
		now = now.Add(45 * time.Second)
		d.Seen("fresh")
		now = now.Add(30 * time.Second)

		if !d.Seen("fresh") {
			t.Error("fresh entry was pruned")
		}
		if d.Len() != 1 {
			t.Errorf("expected 1 entry, got %d", d.Len())
		}
		if d.Seen("old") {
			t.Error("stale entry survived pruning")
		}
	})
}
