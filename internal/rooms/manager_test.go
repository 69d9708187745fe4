package rooms

import (
	"context"
	"testing"

	"chat-gateway/internal/data"
	"chat-gateway/internal/registry"
	"chat-gateway/internal/types"
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

type testHandle struct {
	id     string
	userID string
}

func (h *testHandle) ID() string     { return h.id }
func (h *testHandle) UserID() string { return h.userID }

func TestRoomID(t *testing.T) {
	if got := RoomID("42"); got != "chat:42" {
		t.Errorf("expected chat:42, got %q", got)
	}
}

func TestJoinAll(t *testing.T) {
	ctx := context.Background()

	t.Run("joins every room of the user", func(t *testing.T) {
		reg := registry.New()
		store := data.NewMemoryStore()
		store.SetRooms("alice", "1", "2")
		mgr := NewManager(reg, store, &mockLogger{})

		h := &testHandle{id: "c1", userID: "alice"}
		reg.Add(h)

		if err := mgr.JoinAll(ctx, h); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := len(reg.ListByRoom("chat:1")); got != 1 {
			t.Errorf("expected handle in chat:1, got %d", got)
		}
		if got := len(reg.ListByRoom("chat:2")); got != 1 {
			t.Errorf("expected handle in chat:2, got %d", got)
		}
	})

	t.Run("lookup failure returns LookupError and joins nothing", func(t *testing.T) {
		reg := registry.New()
		store := data.NewMemoryStore()
		store.SetRooms("alice", "1")
		store.FailLookups(true)
		mgr := NewManager(reg, store, &mockLogger{})

		h := &testHandle{id: "c1", userID: "alice"}
		reg.Add(h)

		err := mgr.JoinAll(ctx, h)
		if err == nil {
			t.Fatal("expected error")
		}
		if !types.IsLookup(err) {
			t.Errorf("expected LookupError, got %T", err)
		}
		if got := len(reg.Rooms(h)); got != 0 {
			t.Errorf("expected no rooms joined, got %d", got)
		}
	})
}

func TestOnMembershipChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("joins live connections of the user", func(t *testing.T) {
		reg := registry.New()
		mgr := NewManager(reg, data.NewMemoryStore(), &mockLogger{})

		h1 := &testHandle{id: "c1", userID: "alice"}
		h2 := &testHandle{id: "c2", userID: "alice"}
		reg.Add(h1)
		reg.Add(h2)

		mgr.OnMembershipChanged(ctx, MembershipChange{ChatID: "7", UserID: "alice", Joined: true})

		if got := len(reg.ListByRoom("chat:7")); got != 2 {
			t.Errorf("expected both connections joined, got %d", got)
		}
	})

	t.Run("removal leaves the room without reconnect", func(t *testing.T) {
		reg := registry.New()
		mgr := NewManager(reg, data.NewMemoryStore(), &mockLogger{})

		h := &testHandle{id: "c1", userID: "alice"}
		reg.Add(h)
		mgr.Join(h, "7")

		mgr.OnMembershipChanged(ctx, MembershipChange{ChatID: "7", UserID: "alice", Joined: false})

		if got := len(reg.ListByRoom("chat:7")); got != 0 {
			t.Errorf("expected connection removed from room, got %d", got)
		}
	})

	t.Run("change for a user with no local connections is a no-op", func(t *testing.T) {
		reg := registry.New()
		mgr := NewManager(reg, data.NewMemoryStore(), &mockLogger{})

		mgr.OnMembershipChanged(ctx, MembershipChange{ChatID: "7", UserID: "remote", Joined: true})

		if got := len(reg.ListByRoom("chat:7")); got != 0 {
			t.Errorf("expected empty room, got %d", got)
		}
	})
}
