package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Debugf(ctx context.Context, template string, arg ...any) {}
func (m *mockLogger) Info(ctx context.Context, arg ...any)                    {}
func (m *mockLogger) Infof(ctx context.Context, template string, arg ...any)  {}
func (m *mockLogger) Warn(ctx context.Context, arg ...any)                    {}
func (m *mockLogger) Warnf(ctx context.Context, template string, arg ...any)  {}
func (m *mockLogger) Error(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Errorf(ctx context.Context, template string, arg ...any) {}
func (m *mockLogger) Fatal(ctx context.Context, arg ...any)                   {}
func (m *mockLogger) Fatalf(ctx context.Context, template string, arg ...any) {}

// fakeChecker scripts IsOnline answers per user, consumed in order.
type fakeChecker struct {
	mu      sync.Mutex
	answers map[string][]bool
	err     error
}

func (f *fakeChecker) IsOnline(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	answers := f.answers[userID]
	if len(answers) == 0 {
		return false, nil
	}
	answer := answers[0]
	f.answers[userID] = answers[1:]
	return answer, nil
}

// offlineRecorder collects confirmed offline transitions.
type offlineRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *offlineRecorder) record(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

func (r *offlineRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

func newTestWatcher(checker *fakeChecker, rec *offlineRecorder) *Watcher {
	w := NewWatcher(checker, time.Second, rec.record, &mockLogger{})
	w.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	return w
}

func TestWatcherConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms offline after both checks fail", func(t *testing.T) {
		checker := &fakeChecker{answers: map[string][]bool{"alice": {false, false}}}
		rec := &offlineRecorder{}
		w := newTestWatcher(checker, rec)

		w.confirm(ctx, "alice")

		if got := rec.list(); len(got) != 1 || got[0] != "alice" {
			t.Errorf("expected alice offline, got %v", got)
		}
	})

	t.Run("skips when another key is still live", func(t *testing.T) {
		checker := &fakeChecker{answers: map[string][]bool{"alice": {true}}}
		rec := &offlineRecorder{}
		w := newTestWatcher(checker, rec)

		w.confirm(ctx, "alice")

		if got := rec.list(); len(got) != 0 {
			t.Errorf("expected no offline report, got %v", got)
		}
	})

	t.Run("skips when user reconnects within the grace window", func(t *testing.T) {
		// Offline at first check, back online at the post-grace check.
		checker := &fakeChecker{answers: map[string][]bool{"alice": {false, true}}}
		rec := &offlineRecorder{}
		w := newTestWatcher(checker, rec)

		w.confirm(ctx, "alice")

		if got := rec.list(); len(got) != 0 {
			t.Errorf("expected no flicker, got %v", got)
		}
	})

	t.Run("check failure degrades to no report", func(t *testing.T) {
		checker := &fakeChecker{err: errors.New("store unavailable")}
		rec := &offlineRecorder{}
		w := newTestWatcher(checker, rec)

		w.confirm(ctx, "alice")

		if got := rec.list(); len(got) != 0 {
			t.Errorf("expected no offline report, got %v", got)
		}
	})
}

func TestWatcherRun(t *testing.T) {
	t.Run("processes expiries until the stream closes", func(t *testing.T) {
		checker := &fakeChecker{answers: map[string][]bool{
			"alice": {false, false},
			"bob":   {true},
		}}
		rec := &offlineRecorder{}
		w := newTestWatcher(checker, rec)

		expiries := make(chan string, 2)
		expiries <- "alice"
		expiries <- "bob"
		close(expiries)

		done := make(chan struct{})
		go func() {
			w.Run(context.Background(), expiries)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not exit on closed stream")
		}

		deadline := time.After(time.Second)
		for {
			if got := rec.list(); len(got) == 1 && got[0] == "alice" {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("expected only alice offline, got %v", rec.list())
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		w := newTestWatcher(&fakeChecker{answers: map[string][]bool{}}, &offlineRecorder{})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Run(ctx, make(chan string))
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not exit on cancel")
		}
	})

	t.Run("duplicate expiry while confirmation is pending is coalesced", func(t *testing.T) {
		w := newTestWatcher(&fakeChecker{}, &offlineRecorder{})
		if !w.begin("alice") {
			t.Fatal("first begin must succeed")
		}
		if w.begin("alice") {
			t.Error("second begin for the same user must be rejected")
		}
		w.finish("alice")
		if !w.begin("alice") {
			t.Error("begin after finish must succeed")
		}
	})
}
