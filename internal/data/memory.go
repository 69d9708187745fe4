package data

import (
	"context"
	"fmt"
	"sync"
)

type statusKey struct {
	messageID   string
	recipientID string
}

// MemoryStore is an in-memory Store. It backs tests and single-process
// development runs; production deployments wire the real data service.
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[string][]string // userID -> roomIDs
	friends     map[string][]FriendPair
	statuses    map[statusKey]MessageState
	messages    []ChatMessage
	readNotifs  map[string]map[string]bool // userID -> notificationID -> read
	failLookups bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[string][]string),
		friends:    make(map[string][]FriendPair),
		statuses:   make(map[statusKey]MessageState),
		readNotifs: make(map[string]map[string]bool),
	}
}

// SetRooms seeds the rooms for a user.
func (m *MemoryStore) SetRooms(userID string, roomIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[userID] = append([]string(nil), roomIDs...)
}

// SetFriends seeds the friendship edges for a user.
func (m *MemoryStore) SetFriends(userID string, pairs ...FriendPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[userID] = append([]FriendPair(nil), pairs...)
}

// FailLookups makes room/friend lookups return errors, for degradation
// tests.
func (m *MemoryStore) FailLookups(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLookups = fail
}

func (m *MemoryStore) GetRoomsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failLookups {
		return nil, fmt.Errorf("room lookup unavailable")
	}
	return append([]string(nil), m.rooms[userID]...), nil
}

func (m *MemoryStore) GetFriendPairStatus(ctx context.Context, userID string) ([]FriendPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failLookups {
		return nil, fmt.Errorf("friend lookup unavailable")
	}
	return append([]FriendPair(nil), m.friends[userID]...), nil
}

func (m *MemoryStore) RecordMessageStatus(ctx context.Context, messageID, recipientID string, state MessageState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := statusKey{messageID: messageID, recipientID: recipientID}
	current, ok := m.statuses[key]
	if ok && state <= current {
		return false, nil
	}
	m.statuses[key] = state
	return true, nil
}

// MessageStatus returns the recorded state for (messageID, recipientID).
func (m *MemoryStore) MessageStatus(messageID, recipientID string) (MessageState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[statusKey{messageID: messageID, recipientID: recipientID}]
	return state, ok
}

func (m *MemoryStore) SaveMessage(ctx context.Context, msg ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns every persisted message.
func (m *MemoryStore) Messages() []ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ChatMessage(nil), m.messages...)
}

func (m *MemoryStore) MarkNotificationsRead(ctx context.Context, userID string, notificationIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readNotifs[userID] == nil {
		m.readNotifs[userID] = make(map[string]bool)
	}
	for _, id := range notificationIDs {
		m.readNotifs[userID][id] = true
	}
	return nil
}

// NotificationRead reports whether a notification was marked read.
func (m *MemoryStore) NotificationRead(userID, notificationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readNotifs[userID][notificationID]
}
