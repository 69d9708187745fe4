package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

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

// testBus builds a Bus whose publishes go to fn instead of a broker.
func testBus(cfg Config, fn func(ctx context.Context, subject string, data []byte) error) *Bus {
	b := &Bus{cfg: cfg, logger: &mockLogger{}}
	b.publishFn = fn
	return b
}

func TestPublishRetry(t *testing.T) {
	cfg := Config{
		Stream:         "TEST",
		ProcessID:      "gw-test",
		PublishRetries: 3,
		PublishBackoff: time.Millisecond,
	}

	t.Run("succeeds without retry", func(t *testing.T) {
		calls := 0
		b := testBus(cfg, func(ctx context.Context, subject string, data []byte) error {
			calls++
			return nil
		})

		evt, err := b.Publish(context.Background(), EventMessage, RoomScope("chat:1"), map[string]string{"a": "b"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 publish call, got %d", calls)
		}
		if evt.Origin != "gw-test" {
			t.Errorf("expected origin gw-test, got %q", evt.Origin)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		b := testBus(cfg, func(ctx context.Context, subject string, data []byte) error {
			calls++
			if calls < 3 {
				return errors.New("broker unavailable")
			}
			return nil
		})

		if _, err := b.Publish(context.Background(), EventMessage, RoomScope("chat:1"), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 publish calls, got %d", calls)
		}
	})

	t.Run("surfaces PublishError after exhausting retries", func(t *testing.T) {
		calls := 0
		b := testBus(cfg, func(ctx context.Context, subject string, data []byte) error {
			calls++
			return errors.New("broker unavailable")
		})

		_, err := b.Publish(context.Background(), EventMessage, RoomScope("chat:1"), nil)
		if err == nil {
			t.Fatal("expected error")
		}
		var pe *types.PublishError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PublishError, got %T", err)
		}
		if pe.Attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", pe.Attempts)
		}
		if calls != 3 {
			t.Errorf("expected 3 publish calls, got %d", calls)
		}
	})

	t.Run("stops retrying on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		b := testBus(cfg, func(ctx context.Context, subject string, data []byte) error {
			cancel()
			return errors.New("broker unavailable")
		})

		_, err := b.Publish(ctx, EventMessage, RoomScope("chat:1"), nil)
		var pe *types.PublishError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PublishError, got %T", err)
		}
		if !errors.Is(pe.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", pe.Err)
		}
	})

	t.Run("sequence increases per publish", func(t *testing.T) {
		b := testBus(cfg, func(ctx context.Context, subject string, data []byte) error { return nil })
		a, _ := b.Publish(context.Background(), EventMessage, UserScope("alice"), nil)
		c, _ := b.Publish(context.Background(), EventMessage, UserScope("alice"), nil)
		if c.Seq <= a.Seq {
			t.Errorf("sequence did not increase: %d then %d", a.Seq, c.Seq)
		}
	})
}

// fakeMsg scripts the jetstream.Msg surface handleMsg touches and
// records the ack decision.
type fakeMsg struct {
	jetstream.Msg
	data       []byte
	subject    string
	deliveries uint64
	metaErr    error

	acked bool
	naked bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.metaErr != nil {
		return nil, m.metaErr
	}
	return &jetstream.MsgMetadata{NumDelivered: m.deliveries}, nil
}

func (m *fakeMsg) Ack() error { m.acked = true; return nil }
func (m *fakeMsg) Nak() error { m.naked = true; return nil }

func encodeEvent(t *testing.T, evt Event) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestHandleMsg(t *testing.T) {
	cfg := Config{Stream: "TEST", ProcessID: "gw-test", MaxDeliveries: 3}
	evt, err := NewEvent(EventMessage, RoomScope("chat:1"), map[string]string{"a": "b"}, "gw-2", 1)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	tests := []struct {
		name       string
		msg        *fakeMsg
		handlerErr error
		wantAck    bool
		wantNak    bool
		wantCalled bool
	}{
		{
			name:       "success acks",
			msg:        &fakeMsg{data: encodeEvent(t, evt), deliveries: 1},
			wantAck:    true,
			wantCalled: true,
		},
		{
			name:       "handler failure below budget naks for redelivery",
			msg:        &fakeMsg{data: encodeEvent(t, evt), deliveries: 2},
			handlerErr: errors.New("downstream unavailable"),
			wantNak:    true,
			wantCalled: true,
		},
		{
			name:       "handler failure at budget acks away",
			msg:        &fakeMsg{data: encodeEvent(t, evt), deliveries: 3},
			handlerErr: errors.New("downstream unavailable"),
			wantAck:    true,
			wantCalled: true,
		},
		{
			name:       "missing metadata counts as first delivery",
			msg:        &fakeMsg{data: encodeEvent(t, evt), metaErr: errors.New("no metadata")},
			handlerErr: errors.New("downstream unavailable"),
			wantNak:    true,
			wantCalled: true,
		},
		{
			name:    "undecodable payload acked without handler call",
			msg:     &fakeMsg{data: []byte("{not json"), subject: "events.room.chat:1"},
			wantAck: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBus(cfg, nil)
			called := false
			b.handleMsg(context.Background(), tt.msg, func(ctx context.Context, got Event) error {
				called = true
				if got.ID != evt.ID {
					t.Errorf("expected event %s, got %s", evt.ID, got.ID)
				}
				return tt.handlerErr
			})

			if tt.msg.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", tt.msg.acked, tt.wantAck)
			}
			if tt.msg.naked != tt.wantNak {
				t.Errorf("naked = %v, want %v", tt.msg.naked, tt.wantNak)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestExhausted(t *testing.T) {
	b := testBus(Config{MaxDeliveries: 3}, nil)

	if b.exhausted(2) {
		t.Error("2 of 3 deliveries reported exhausted")
	}
	if !b.exhausted(3) {
		t.Error("3 of 3 deliveries not reported exhausted")
	}

	// A zero budget still allows one delivery.
	b = testBus(Config{}, nil)
	if !b.exhausted(1) {
		t.Error("default budget must exhaust after one delivery")
	}
}
