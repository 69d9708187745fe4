package gateway

import (
	"encoding/json"
	"fmt"

	"chat-gateway/internal/status"
)

// Client event names. Inbound events arrive on the socket from the
// client; outbound events are pushed by the gateway.
const (
	// Inbound
	EventChatJoin              = "chat_join"
	EventHeartbeat             = "heartbeat"
	EventMarkDelivered         = "mark_messages_as_delivered"
	EventMarkSeen              = "mark_messages_as_seen"
	EventMarkNotificationsRead = "mark_notifications_as_read"
	EventMessage               = "message"

	// Outbound
	EventUserStatusUpdate    = "user_status_update"
	EventMessageStatusUpdate = "message_status_update"
	EventFriendsStatus       = "friends_status"
	EventNotification        = "notification"
	EventGenaiResponseAppend = "genai_response_append"
	EventCustomError         = "custom_error"
	EventDisconnecting       = "disconnecting"
)

// ClientEnvelope is the frame clients send: an event name plus an
// event-specific payload.
type ClientEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEnvelope is the frame the gateway pushes to clients.
type ServerEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func encodeServerEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(ServerEnvelope{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return data, nil
}

// ErrorPayload is the body of a custom_error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ChatJoinPayload subscribes the connection to one chat.
type ChatJoinPayload struct {
	ChatID string `json:"chatId"`
}

// HeartbeatPayload is accepted empty; the connection context carries
// everything a heartbeat needs.
type HeartbeatPayload struct{}

// MessagePayload is a client-sent chat message.
type MessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// MessageBroadcast is the message event pushed to room members and
// carried on the bus.
type MessageBroadcast struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	SentAt    string `json:"sentAt"`
}

// StatusAckPayload acknowledges one or more messages as delivered or
// seen. A single-message ack is a one-element batch.
type StatusAckPayload struct {
	Messages []status.MessageRef `json:"messages"`
}

// NotificationsReadPayload marks notifications as read.
type NotificationsReadPayload struct {
	NotificationIDs []string `json:"notificationIds"`
}

// UserStatusPayload is the body of a user_status_update event.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// FriendStatus is one entry of a friends_status snapshot.
type FriendStatus struct {
	FriendID string `json:"friendId"`
	Status   string `json:"status"`
	Online   bool   `json:"online"`
}

// FriendsStatusPayload is the presence snapshot pushed right after
// connect, so the client renders friend presence without polling.
type FriendsStatusPayload struct {
	Friends []FriendStatus `json:"friends"`
}

// DisconnectingPayload announces a server-initiated close.
type DisconnectingPayload struct {
	Reason string `json:"reason"`
}
