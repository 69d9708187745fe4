// Package rooms keeps the local connection registry's room membership in
// sync with chat membership: joining a connection to all of its user's
// chats on connect, and applying membership changes broadcast by other
// gateway processes to connections living on this one.
package rooms

import (
	"context"
	"fmt"

	"chat-gateway/internal/data"
	"chat-gateway/internal/registry"
	"chat-gateway/internal/types"
	"chat-gateway/pkg/log"
)

// RoomID formats the registry room identifier for a chat.
func RoomID(chatID string) string {
	return "chat:" + chatID
}

// Manager joins and leaves connections on room membership events.
type Manager struct {
	reg    *registry.Registry
	store  data.RoomStore
	logger log.Logger
}

func NewManager(reg *registry.Registry, store data.RoomStore, logger log.Logger) *Manager {
	return &Manager{reg: reg, store: store, logger: logger}
}

// JoinAll subscribes h to every chat its user belongs to. A store
// failure is reported but leaves the connection usable: it still
// receives direct events, and a later explicit join can recover rooms.
func (m *Manager) JoinAll(ctx context.Context, h registry.Handle) error {
	chatIDs, err := m.store.GetRoomsForUser(ctx, h.UserID())
	if err != nil {
		return &types.LookupError{Resource: fmt.Sprintf("rooms for user %s", h.UserID()), Err: err}
	}
	for _, chatID := range chatIDs {
		m.reg.JoinRoom(h, RoomID(chatID))
	}
	return nil
}

// Join subscribes h to a single chat.
func (m *Manager) Join(h registry.Handle, chatID string) {
	m.reg.JoinRoom(h, RoomID(chatID))
}

// MembershipChange is the payload of a membership_changed event.
type MembershipChange struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Joined bool   `json:"joined"`
}

// OnMembershipChanged applies a change to every live local connection of
// the affected user. Changes for users with no local connections are a
// no-op; their gateway applies them itself.
func (m *Manager) OnMembershipChanged(ctx context.Context, change MembershipChange) {
	handles := m.reg.ListByUser(change.UserID)
	if len(handles) == 0 {
		return
	}
	room := RoomID(change.ChatID)
	for _, h := range handles {
		if change.Joined {
			m.reg.JoinRoom(h, room)
		} else {
			m.reg.LeaveRoom(h, room)
		}
	}
	m.logger.Debugf(ctx, "membership applied: chat=%s user=%s joined=%t conns=%d",
		change.ChatID, change.UserID, change.Joined, len(handles))
}
