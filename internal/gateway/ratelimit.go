package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-gateway/pkg/log"
)

// RateLimitConfig caps connection count and churn per user.
type RateLimitConfig struct {
	// MaxConnectionsPerUser is the maximum simultaneous connections per user.
	MaxConnectionsPerUser int

	// ConnectionRateLimit is the maximum new connections per user per window.
	ConnectionRateLimit int

	// Window is the sliding window for the rate limit.
	Window time.Duration
}

// RateLimitError reports which limit a connection attempt exceeded.
type RateLimitError struct {
	UserID  string
	Limit   string
	Current int
	Max     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for user %s: %s (current: %d, max: %d)", e.UserID, e.Limit, e.Current, e.Max)
}

// IsRateLimitError checks if an error is a RateLimitError.
func IsRateLimitError(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}

// ConnectionTracker enforces per-user connection limits on the accept
// path, before the socket upgrade.
type ConnectionTracker struct {
	userConnections      map[string]int
	connectionTimestamps map[string][]time.Time

	mu     sync.RWMutex
	cfg    RateLimitConfig
	logger log.Logger
	now    func() time.Time
}

// NewConnectionTracker creates a tracker and starts its timestamp
// cleanup loop, which stops when ctx is canceled.
func NewConnectionTracker(ctx context.Context, cfg RateLimitConfig, logger log.Logger) *ConnectionTracker {
	ct := &ConnectionTracker{
		userConnections:      make(map[string]int),
		connectionTimestamps: make(map[string][]time.Time),
		cfg:                  cfg,
		logger:               logger,
		now:                  time.Now,
	}
	go ct.cleanupLoop(ctx)
	return ct
}

// CheckAndTrack checks both limits and, if they pass, counts the
// connection. Returns a RateLimitError when either limit is exceeded.
func (ct *ConnectionTracker) CheckAndTrack(ctx context.Context, userID string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if err := ct.checkRateLocked(userID); err != nil {
		ct.logger.Warnf(ctx, "connection rate limit exceeded: user=%s", userID)
		return err
	}

	current := ct.userConnections[userID]
	if current >= ct.cfg.MaxConnectionsPerUser {
		return &RateLimitError{
			UserID:  userID,
			Limit:   "max_connections_per_user",
			Current: current,
			Max:     ct.cfg.MaxConnectionsPerUser,
		}
	}

	ct.userConnections[userID]++
	return nil
}

// Untrack releases a closed connection's slot.
func (ct *ConnectionTracker) Untrack(userID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.userConnections[userID] > 0 {
		ct.userConnections[userID]--
		if ct.userConnections[userID] == 0 {
			delete(ct.userConnections, userID)
		}
	}
}

// UserConnectionCount returns the tracked count for a user.
func (ct *ConnectionTracker) UserConnectionCount(userID string) int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.userConnections[userID]
}

func (ct *ConnectionTracker) checkRateLocked(userID string) error {
	now := ct.now()
	windowStart := now.Add(-ct.cfg.Window)

	timestamps := ct.connectionTimestamps[userID]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= ct.cfg.ConnectionRateLimit {
		ct.connectionTimestamps[userID] = valid
		return &RateLimitError{
			UserID:  userID,
			Limit:   "connection_rate_limit",
			Current: len(valid),
			Max:     ct.cfg.ConnectionRateLimit,
		}
	}

	ct.connectionTimestamps[userID] = append(valid, now)
	return nil
}

func (ct *ConnectionTracker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ct.cleanupTimestamps()
		}
	}
}

func (ct *ConnectionTracker) cleanupTimestamps() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	windowStart := ct.now().Add(-ct.cfg.Window)
	for userID, timestamps := range ct.connectionTimestamps {
		valid := make([]time.Time, 0, len(timestamps))
		for _, ts := range timestamps {
			if ts.After(windowStart) {
				valid = append(valid, ts)
			}
		}
		if len(valid) == 0 {
			delete(ct.connectionTimestamps, userID)
		} else {
			ct.connectionTimestamps[userID] = valid
		}
	}
}
