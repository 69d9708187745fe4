package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of cross-process event.
type EventType string

const (
	EventMessage             EventType = "message"
	EventMessageStatusUpdate EventType = "message_status_update"
	EventUserStatusUpdate    EventType = "user_status_update"
	EventFriendUpdate        EventType = "friend_update"
	EventMembershipChanged   EventType = "membership_changed"
	EventNotification        EventType = "notification"
	EventGenaiResponseAppend EventType = "genai_response_append"
)

// ScopeKind selects how an event's recipients are resolved.
type ScopeKind string

const (
	ScopeUser  ScopeKind = "user"
	ScopeRoom  ScopeKind = "room"
	ScopeUsers ScopeKind = "users"
)

// Scope is the delivery target of an event: a single user, a room, or an
// explicit set of users (e.g. both parties of a friendship).
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Room  string    `json:"room,omitempty"`
	Users []string  `json:"users,omitempty"`
}

// UserScope targets a single user on every process.
func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, Users: []string{userID}}
}

// RoomScope targets every member connection of a room.
func RoomScope(roomID string) Scope {
	return Scope{Kind: ScopeRoom, Room: roomID}
}

// UsersScope targets an explicit set of users.
func UsersScope(userIDs ...string) Scope {
	return Scope{Kind: ScopeUsers, Users: userIDs}
}

// Key returns the partition key events of this scope are ordered under:
// the room id for room scopes, the user id for user scopes, and the
// lexically smallest user id for user-set scopes so the same set always
// lands on the same partition.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeRoom:
		return s.Room
	case ScopeUser:
		if len(s.Users) > 0 {
			return s.Users[0]
		}
	case ScopeUsers:
		min := ""
		for _, u := range s.Users {
			if min == "" || u < min {
				min = u
			}
		}
		return min
	}
	return ""
}

// Valid reports whether the scope names at least one recipient.
func (s Scope) Valid() bool {
	switch s.Kind {
	case ScopeRoom:
		return s.Room != ""
	case ScopeUser, ScopeUsers:
		return len(s.Users) > 0 && s.Users[0] != ""
	default:
		return false
	}
}

// Event is the envelope carried on the bus. Once published, no process
// owns it; delivery is at-least-once, ordered per Subject.
type Event struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	Scope   Scope           `json:"scope"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
	Seq     uint64          `json:"seq"`
	At      time.Time       `json:"at"`
}

// NewEvent builds an envelope with a fresh id, marshaling payload.
func NewEvent(evtType EventType, scope Scope, payload any, origin string, seq uint64) (Event, error) {
	if !scope.Valid() {
		return Event{}, fmt.Errorf("invalid scope for %s event", evtType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", evtType, err)
	}
	return Event{
		ID:      uuid.New().String(),
		Type:    evtType,
		Scope:   scope,
		Payload: data,
		Origin:  origin,
		Seq:     seq,
		At:      time.Now().UTC(),
	}, nil
}

const subjectPrefix = "events"

// Subject derives the broker subject for the event. One subject per
// partition key keeps same-key events in publish order for every
// consumer.
func (e Event) Subject() string {
	return subjectPrefix + "." + string(e.Scope.Kind) + "." + sanitizeToken(e.Scope.Key())
}

// AllSubjects is the wildcard every gateway consumes.
const AllSubjects = subjectPrefix + ".>"

var tokenSanitizer = strings.NewReplacer(
	".", "_",
	"*", "_",
	">", "_",
	" ", "_",
)

// sanitizeToken makes an opaque identifier safe as a subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenSanitizer.Replace(s)
}
