// Package data defines the contracts the gateway consumes from the
// persistence layer. The CRUD side (users, chats, friendships, message
// bodies) lives in a separate service; the gateway only depends on these
// narrow read/record operations.
package data

import (
	"context"
	"time"
)

// MessageState is the per-recipient delivery state of a message, ordered
// Sent < Delivered < Seen.
type MessageState int8

const (
	StateSent MessageState = iota
	StateDelivered
	StateSeen
)

func (s MessageState) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateSeen:
		return "seen"
	default:
		return "unknown"
	}
}

// ParseMessageState maps a wire name back to a MessageState.
func ParseMessageState(name string) (MessageState, bool) {
	switch name {
	case "sent":
		return StateSent, true
	case "delivered":
		return StateDelivered, true
	case "seen":
		return StateSeen, true
	default:
		return StateSent, false
	}
}

// FriendPair is one accepted friendship edge seen from a user.
type FriendPair struct {
	FriendID string
	Status   string
}

// ChatMessage is the persisted form of a sent message.
type ChatMessage struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
	SentAt   time.Time
}

// RoomStore resolves the chat rooms a user belongs to.
type RoomStore interface {
	// GetRoomsForUser returns room identifiers in a stable order.
	GetRoomsForUser(ctx context.Context, userID string) ([]string, error)
}

// FriendStore resolves a user's friendship edges.
type FriendStore interface {
	GetFriendPairStatus(ctx context.Context, userID string) ([]FriendPair, error)
}

// StatusStore records per-recipient message status transitions.
type StatusStore interface {
	// RecordMessageStatus advances the state for (messageID, recipientID)
	// if and only if state is strictly greater than the recorded one.
	// Returns whether the state actually advanced; a lower or equal state
	// is a no-op, not an error.
	RecordMessageStatus(ctx context.Context, messageID, recipientID string, state MessageState) (bool, error)
}

// MessageStore persists sent messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg ChatMessage) error
}

// NotificationStore marks user notifications as read.
type NotificationStore interface {
	MarkNotificationsRead(ctx context.Context, userID string, notificationIDs []string) error
}

// Store aggregates every data-layer contract the gateway consumes.
type Store interface {
	RoomStore
	FriendStore
	StatusStore
	MessageStore
	NotificationStore
}
