// Package status advances per-recipient message delivery state and tells
// senders about it. State only moves forward (sent, delivered, seen), so
// replayed or out-of-order acknowledgements never regress what the sender
// has already been shown, and a status update is published only when the
// store actually advanced.
package status

import (
	"context"

	"chat-gateway/internal/bus"
	"chat-gateway/internal/data"
	"chat-gateway/pkg/log"
)

// Publisher is the slice of the event bus the tracker needs.
type Publisher interface {
	Publish(ctx context.Context, evtType bus.EventType, scope bus.Scope, payload any) (bus.Event, error)
}

// StatusUpdate is the payload of a message_status_update event, sent to
// the original sender of the message.
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}

// MessageRef identifies one message in a bulk acknowledgement.
type MessageRef struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
}

// Tracker records status transitions and notifies senders.
type Tracker struct {
	store  data.StatusStore
	pub    Publisher
	logger log.Logger
}

func NewTracker(store data.StatusStore, pub Publisher, logger log.Logger) *Tracker {
	return &Tracker{store: store, pub: pub, logger: logger}
}

// MarkDelivered records that userID received the message. senderID is
// the message author, who gets the status update.
func (t *Tracker) MarkDelivered(ctx context.Context, ref MessageRef, userID string) error {
	return t.mark(ctx, ref, userID, data.StateDelivered)
}

// MarkSeen records that userID viewed the message. Seen implies
// delivered, so a seen ack for a message never marked delivered still
// lands at seen.
func (t *Tracker) MarkSeen(ctx context.Context, ref MessageRef, userID string) error {
	return t.mark(ctx, ref, userID, data.StateSeen)
}

// MarkAllDelivered acknowledges a batch, typically every pending message
// on reconnect. Failures on individual messages are logged and skipped
// so one bad row cannot block the rest of the batch.
func (t *Tracker) MarkAllDelivered(ctx context.Context, refs []MessageRef, userID string) {
	t.markAll(ctx, refs, userID, data.StateDelivered)
}

// MarkAllSeen acknowledges a batch as seen.
func (t *Tracker) MarkAllSeen(ctx context.Context, refs []MessageRef, userID string) {
	t.markAll(ctx, refs, userID, data.StateSeen)
}

func (t *Tracker) markAll(ctx context.Context, refs []MessageRef, userID string, state data.MessageState) {
	for _, ref := range refs {
		if err := t.mark(ctx, ref, userID, state); err != nil {
			t.logger.Warnf(ctx, "status update skipped: message=%s user=%s state=%s err=%v",
				ref.MessageID, userID, state, err)
		}
	}
}

func (t *Tracker) mark(ctx context.Context, ref MessageRef, userID string, state data.MessageState) error {
	advanced, err := t.store.RecordMessageStatus(ctx, ref.MessageID, userID, state)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}
	_, err = t.pub.Publish(ctx, bus.EventMessageStatusUpdate, bus.UserScope(ref.SenderID), StatusUpdate{
		MessageID: ref.MessageID,
		ChatID:    ref.ChatID,
		UserID:    userID,
		Status:    state.String(),
	})
	return err
}
