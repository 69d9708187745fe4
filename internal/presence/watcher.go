package presence

import (
	"context"
	"sync"
	"time"

	"chat-gateway/pkg/log"
)

// OnlineChecker re-checks aggregate presence for a user.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// OfflineFunc is invoked once per confirmed offline transition.
type OfflineFunc func(ctx context.Context, userID string)

// Watcher turns raw key-expiry notifications into confirmed offline
// transitions. A single expired key proves nothing: the user may hold
// other connections on this or another process, each with its own key,
// so the watcher re-checks the store, waits out the grace window to
// absorb reconnect flaps, re-checks again, and only then reports offline.
type Watcher struct {
	checker   OnlineChecker
	grace     time.Duration
	onOffline OfflineFunc
	logger    log.Logger

	mu      sync.Mutex
	pending map[string]bool

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewWatcher creates a Watcher reporting confirmed offline transitions to
// onOffline after the grace window.
func NewWatcher(checker OnlineChecker, grace time.Duration, onOffline OfflineFunc, logger log.Logger) *Watcher {
	return &Watcher{
		checker:   checker,
		grace:     grace,
		onOffline: onOffline,
		logger:    logger,
		pending:   make(map[string]bool),
		sleep:     sleepCtx,
	}
}

// Run consumes the expiry stream until it closes or ctx is canceled.
// Each candidate is confirmed on its own goroutine so one user's grace
// wait never delays another's.
func (w *Watcher) Run(ctx context.Context, expiries <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID, ok := <-expiries:
			if !ok {
				return
			}
			if !w.begin(userID) {
				continue // confirmation already in flight for this user
			}
			go w.confirm(ctx, userID)
		}
	}
}

func (w *Watcher) begin(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[userID] {
		return false
	}
	w.pending[userID] = true
	return true
}

func (w *Watcher) finish(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, userID)
}

// confirm decides whether an expired key means the user is actually
// offline.
func (w *Watcher) confirm(ctx context.Context, userID string) {
	defer w.finish(userID)

	online, err := w.checker.IsOnline(ctx, userID)
	if err != nil {
		w.logger.Warnf(ctx, "presence re-check failed for %s: %v", userID, err)
		return
	}
	if online {
		return // another connection still holds a live key
	}

	if !w.sleep(ctx, w.grace) {
		return
	}

	online, err = w.checker.IsOnline(ctx, userID)
	if err != nil {
		w.logger.Warnf(ctx, "presence post-grace re-check failed for %s: %v", userID, err)
		return
	}
	if online {
		return // reconnected within the grace window, no flicker
	}

	w.logger.Infof(ctx, "user offline confirmed: %s", userID)
	w.onOffline(ctx, userID)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
