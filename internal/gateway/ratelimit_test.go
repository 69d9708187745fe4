package gateway

import (
	"context"
	"testing"
	"time"
)

func TestConnectionTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("allows connections within limits", func(t *testing.T) {
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 5,
			ConnectionRateLimit:   10,
			Window:                time.Minute,
		}, &mockLogger{})

		if err := tracker.CheckAndTrack(ctx, "user1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if count := tracker.UserConnectionCount("user1"); count != 1 {
			t.Errorf("expected 1 connection, got %d", count)
		}
	})

	t.Run("enforces max connections per user", func(t *testing.T) {
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 2,
			ConnectionRateLimit:   100,
			Window:                time.Minute,
		}, &mockLogger{})

		_ = tracker.CheckAndTrack(ctx, "user1")
		_ = tracker.CheckAndTrack(ctx, "user1")

		err := tracker.CheckAndTrack(ctx, "user1")
		if err == nil {
			t.Fatal("expected rate limit error")
		}
		if !IsRateLimitError(err) {
			t.Errorf("expected RateLimitError, got %T", err)
		}
	})

	t.Run("untrack frees a slot", func(t *testing.T) {
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 1,
			ConnectionRateLimit:   100,
			Window:                time.Minute,
		}, &mockLogger{})

		_ = tracker.CheckAndTrack(ctx, "user1")
		tracker.Untrack("user1")

		if err := tracker.CheckAndTrack(ctx, "user1"); err != nil {
			t.Errorf("unexpected error after untrack: %v", err)
		}
	})

	t.Run("enforces connection rate within window", func(t *testing.T) {
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 100,
			ConnectionRateLimit:   3,
			Window:                time.Minute,
		}, &mockLogger{})

		for i := 0; i < 3; i++ {
			if err := tracker.CheckAndTrack(ctx, "user1"); err != nil {
				t.Fatalf("connection %d unexpectedly limited: %v", i+1, err)
			}
			tracker.Untrack("user1")
		}

		// Churn limit counts attempts, not live connections.
		if err := tracker.CheckAndTrack(ctx, "user1"); err == nil {
			t.Error("expected rate limit error on 4th attempt")
		}
	})

	t.Run("rate window slides", func(t *testing.T) {
		now := time.Now()
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 100,
			ConnectionRateLimit:   1,
			Window:                time.Minute,
		}, &mockLogger{})
		tracker.now = func() time.Time { return now }

		if err := tracker.CheckAndTrack(ctx, "user1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := tracker.CheckAndTrack(ctx, "user1"); err == nil {
			t.Fatal("expected rate limit error inside window")
		}

		now = now.Add(2 * time.Minute)
		if err := tracker.CheckAndTrack(ctx, "user1"); err != nil {
			t.Errorf("unexpected error after window elapsed: %v", err)
		}
	})

	t.Run("limits are per user", func(t *testing.T) {
		tracker := NewConnectionTracker(ctx, RateLimitConfig{
			MaxConnectionsPerUser: 1,
			ConnectionRateLimit:   100,
			Window:                time.Minute,
		}, &mockLogger{})

		_ = tracker.CheckAndTrack(ctx, "user1")
		if err := tracker.CheckAndTrack(ctx, "user2"); err != nil {
			t.Errorf("user2 unexpectedly limited: %v", err)
		}
	})
}
