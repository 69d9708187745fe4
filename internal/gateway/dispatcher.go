package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"chat-gateway/internal/bus"
	"chat-gateway/internal/data"
	"chat-gateway/internal/registry"
	"chat-gateway/internal/rooms"
	"chat-gateway/internal/status"
	"chat-gateway/internal/types"
	"chat-gateway/pkg/log"
)

// PresenceStore is the slice of the presence adapter the dispatcher uses.
type PresenceStore interface {
	Heartbeat(ctx context.Context, userID, connID string, ttl time.Duration) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Publisher is the bus publish surface the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, evtType bus.EventType, scope bus.Scope, payload any) (bus.Event, error)
}

// sender is what the dispatcher requires of a registered handle to emit
// frames to it.
type sender interface {
	SendEvent(event string, payload any) bool
	Close()
}

// DispatchConfig tunes connection-facing behavior.
type DispatchConfig struct {
	// HeartbeatTTL is the lifetime of a presence key; each heartbeat
	// event resets it.
	HeartbeatTTL time.Duration

	// ShutdownDrain is how long outbound disconnecting notices get to
	// flush before connections are force-closed.
	ShutdownDrain time.Duration
}

// HandlerFunc processes one inbound client event.
type HandlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) error

// Dispatcher routes inbound client events to handlers and fans bus
// events out to local connections. One instance per process; its
// lifecycle is tied to process startup and shutdown rather than being
// ambient global state.
type Dispatcher struct {
	cfg      DispatchConfig
	reg      *registry.Registry
	rooms    *rooms.Manager
	presence PresenceStore
	store    data.Store
	tracker  *status.Tracker
	pub      Publisher
	dedup    *bus.Deduper
	logger   log.Logger

	handlers map[string]HandlerFunc
}

func NewDispatcher(
	cfg DispatchConfig,
	reg *registry.Registry,
	roomMgr *rooms.Manager,
	presenceStore PresenceStore,
	store data.Store,
	tracker *status.Tracker,
	pub Publisher,
	dedup *bus.Deduper,
	logger log.Logger,
) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		reg:      reg,
		rooms:    roomMgr,
		presence: presenceStore,
		store:    store,
		tracker:  tracker,
		pub:      pub,
		dedup:    dedup,
		logger:   logger,
	}
	d.handlers = map[string]HandlerFunc{
		EventChatJoin:              d.handleChatJoin,
		EventHeartbeat:             d.handleHeartbeat,
		EventMarkDelivered:         d.handleMarkDelivered,
		EventMarkSeen:              d.handleMarkSeen,
		EventMarkNotificationsRead: d.handleMarkNotificationsRead,
		EventMessage:               d.handleMessage,
	}
	return d
}

// OnConnect registers an authenticated connection: joins its rooms,
// writes the first presence key, pushes the friends presence snapshot,
// and announces the user online if this is their first live connection
// anywhere.
func (d *Dispatcher) OnConnect(ctx context.Context, c *Connection) {
	// A reconnect after key expiry but inside the leader's grace window
	// sees no live key and re-announces online, even though no offline
	// was ever published. The grace state lives in the leader's watcher
	// and the reconnect can land on any process, so it is not visible
	// here; clients apply user_status_update idempotently, so the extra
	// event is harmless.
	wasOnline, err := d.presence.IsOnline(ctx, c.UserID())
	if err != nil {
		// Assume online so a transient store error cannot produce a
		// duplicate online announcement.
		d.logger.Warnf(ctx, "presence check failed on connect: user=%s err=%v", c.UserID(), err)
		wasOnline = true
	}

	d.reg.Add(c)

	if err := d.rooms.JoinAll(ctx, c); err != nil {
		// Connection stays open but unjoined; the next membership event
		// or reconnect repairs it.
		d.logger.Warnf(ctx, "room join failed: user=%s conn=%s err=%v", c.UserID(), c.ID(), err)
	}

	if err := d.presence.Heartbeat(ctx, c.UserID(), c.ID(), d.cfg.HeartbeatTTL); err != nil {
		d.logger.Errorf(ctx, "initial heartbeat failed: user=%s conn=%s err=%v", c.UserID(), c.ID(), err)
	}

	pairs := d.sendFriendsSnapshot(ctx, c)

	if !wasOnline {
		d.publishUserStatus(ctx, c.UserID(), true, pairs)
	}

	d.logger.Infof(ctx, "connection established: user=%s conn=%s", c.UserID(), c.ID())
}

// OnDisconnect deregisters the connection. The presence key is left to
// expire on its own: the TTL plus grace window absorbs reconnect flaps
// without an offline/online flicker.
func (d *Dispatcher) OnDisconnect(c *Connection) {
	ctx := context.Background()
	lastOfUser := d.reg.Remove(c)
	d.logger.Infof(ctx, "connection closed: user=%s conn=%s last=%t", c.UserID(), c.ID(), lastOfUser)
}

// Dispatch handles one inbound frame. Malformed payloads and handler
// validation failures come back as custom_error events; the connection
// survives them.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Connection, frame []byte) {
	var env ClientEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		d.sendError(c, types.CodeMalformedPayload, "frame is not a valid event envelope")
		return
	}

	handler, ok := d.handlers[env.Event]
	if !ok {
		d.sendError(c, types.CodeUnknownEvent, "unknown event: "+env.Event)
		return
	}

	if err := handler(ctx, c, env.Payload); err != nil {
		d.replyError(ctx, c, env.Event, err)
	}
}

// replyError translates a handler error into a custom_error event.
// Infrastructure errors that are retried internally only reach here
// once retries are exhausted for an action the user is waiting on.
func (d *Dispatcher) replyError(ctx context.Context, c *Connection, event string, err error) {
	var ve *types.ValidationError
	var le *types.LookupError
	var pe *types.PublishError
	var pse *types.PresenceStoreError

	switch {
	case errors.As(err, &ve):
		d.sendError(c, ve.Code, ve.Error())
	case errors.As(err, &le):
		d.logger.Warnf(ctx, "%s lookup failed: user=%s err=%v", event, c.UserID(), err)
		d.sendError(c, types.CodeLookupFailed, "temporarily unable to load data")
	case errors.As(err, &pe):
		d.logger.Errorf(ctx, "%s publish failed: user=%s err=%v", event, c.UserID(), err)
		d.sendError(c, types.CodeDeliveryFailed, "event could not be delivered")
	case errors.As(err, &pse):
		// Heartbeats retry on the next interval; no user-visible error.
		d.logger.Warnf(ctx, "%s presence store failure: user=%s err=%v", event, c.UserID(), err)
	default:
		d.logger.Errorf(ctx, "%s handler failed: user=%s err=%v", event, c.UserID(), err)
		d.sendError(c, types.CodeDeliveryFailed, "request failed")
	}
}

// sendError emits a custom_error if the handle is still registered.
// A handle that raced its own disconnect gets nothing.
func (d *Dispatcher) sendError(c *Connection, code, message string) {
	if !d.reg.Contains(c) {
		return
	}
	c.SendEvent(EventCustomError, ErrorPayload{Code: code, Message: message})
}

func (d *Dispatcher) handleChatJoin(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var p ChatJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.NewValidationError(types.CodeMalformedPayload, "")
	}
	if p.ChatID == "" {
		return types.NewValidationError(types.CodeMissingField, "chatId")
	}
	d.rooms.Join(c, p.ChatID)
	return nil
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, c *Connection, _ json.RawMessage) error {
	return d.presence.Heartbeat(ctx, c.UserID(), c.ID(), d.cfg.HeartbeatTTL)
}

func (d *Dispatcher) handleMarkDelivered(ctx context.Context, c *Connection, payload json.RawMessage) error {
	refs, err := parseStatusAck(payload)
	if err != nil {
		return err
	}
	d.tracker.MarkAllDelivered(ctx, refs, c.UserID())
	return nil
}

func (d *Dispatcher) handleMarkSeen(ctx context.Context, c *Connection, payload json.RawMessage) error {
	refs, err := parseStatusAck(payload)
	if err != nil {
		return err
	}
	d.tracker.MarkAllSeen(ctx, refs, c.UserID())
	return nil
}

// parseStatusAck validates the whole batch up front; individual
// transitions are applied independently afterwards.
func parseStatusAck(payload json.RawMessage) ([]status.MessageRef, error) {
	var p StatusAckPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, types.NewValidationError(types.CodeMalformedPayload, "")
	}
	if len(p.Messages) == 0 {
		return nil, types.NewValidationError(types.CodeMissingField, "messages")
	}
	for _, ref := range p.Messages {
		if ref.MessageID == "" {
			return nil, types.NewValidationError(types.CodeMissingField, "messages[].messageId")
		}
		if ref.SenderID == "" {
			return nil, types.NewValidationError(types.CodeMissingField, "messages[].senderId")
		}
	}
	return p.Messages, nil
}

func (d *Dispatcher) handleMarkNotificationsRead(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var p NotificationsReadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.NewValidationError(types.CodeMalformedPayload, "")
	}
	if len(p.NotificationIDs) == 0 {
		return types.NewValidationError(types.CodeMissingField, "notificationIds")
	}
	if err := d.store.MarkNotificationsRead(ctx, c.UserID(), p.NotificationIDs); err != nil {
		return &types.LookupError{Resource: "notifications", Err: err}
	}
	return nil
}

// handleMessage persists the message, then publishes it to the chat's
// room scope. A publish failure after retries is surfaced to the sender
// as a delivery error; the persisted record remains for later
// reconciliation.
func (d *Dispatcher) handleMessage(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.NewValidationError(types.CodeMalformedPayload, "")
	}
	if p.ChatID == "" {
		return types.NewValidationError(types.CodeMissingField, "chatId")
	}
	if p.Content == "" {
		return types.NewValidationError(types.CodeMissingField, "content")
	}

	msg := data.ChatMessage{
		ID:       uuid.New().String(),
		ChatID:   p.ChatID,
		SenderID: c.UserID(),
		Content:  p.Content,
		SentAt:   time.Now().UTC(),
	}
	if err := d.store.SaveMessage(ctx, msg); err != nil {
		return &types.LookupError{Resource: "message persistence", Err: err}
	}

	_, err := d.pub.Publish(ctx, bus.EventMessage, bus.RoomScope(rooms.RoomID(p.ChatID)), MessageBroadcast{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		SentAt:    msg.SentAt.Format(time.RFC3339Nano),
	})
	return err
}

// HandleBusEvent is the bus consumer handler: it applies membership
// changes locally and fans every other event out to the connections in
// its scope. Redelivered events are suppressed by id, so duplicate
// delivery never produces a duplicate outbound frame.
func (d *Dispatcher) HandleBusEvent(ctx context.Context, evt bus.Event) error {
	if d.dedup.Seen(evt.ID) {
		d.logger.Debugf(ctx, "duplicate bus event suppressed: id=%s type=%s", evt.ID, evt.Type)
		return nil
	}

	if evt.Type == bus.EventMembershipChanged {
		var change rooms.MembershipChange
		if err := json.Unmarshal(evt.Payload, &change); err != nil {
			d.logger.Errorf(ctx, "bad membership payload, skipping: id=%s err=%v", evt.ID, err)
			return nil
		}
		d.rooms.OnMembershipChanged(ctx, change)
		return nil
	}

	clientEvent, ok := clientEventFor(evt.Type)
	if !ok {
		d.logger.Warnf(ctx, "unhandled bus event type, skipping: id=%s type=%s", evt.ID, evt.Type)
		return nil
	}

	for _, h := range d.targets(evt.Scope) {
		if s, ok := h.(sender); ok {
			s.SendEvent(clientEvent, json.RawMessage(evt.Payload))
		}
	}
	return nil
}

// clientEventFor maps a bus event type to the event name pushed to
// clients. Friend-edge changes surface as a friends_status delta.
func clientEventFor(t bus.EventType) (string, bool) {
	switch t {
	case bus.EventMessage:
		return EventMessage, true
	case bus.EventMessageStatusUpdate:
		return EventMessageStatusUpdate, true
	case bus.EventUserStatusUpdate:
		return EventUserStatusUpdate, true
	case bus.EventFriendUpdate:
		return EventFriendsStatus, true
	case bus.EventNotification:
		return EventNotification, true
	case bus.EventGenaiResponseAppend:
		return EventGenaiResponseAppend, true
	default:
		return "", false
	}
}

func (d *Dispatcher) targets(scope bus.Scope) []registry.Handle {
	switch scope.Kind {
	case bus.ScopeRoom:
		return d.reg.ListByRoom(scope.Room)
	case bus.ScopeUser, bus.ScopeUsers:
		var handles []registry.Handle
		for _, userID := range scope.Users {
			handles = append(handles, d.reg.ListByUser(userID)...)
		}
		return handles
	default:
		return nil
	}
}

// NotifyOffline publishes the user's offline status to their friends.
// Wired as the presence watcher's confirmed-offline callback on the
// leader process.
func (d *Dispatcher) NotifyOffline(ctx context.Context, userID string) {
	pairs, err := d.store.GetFriendPairStatus(ctx, userID)
	if err != nil {
		d.logger.Errorf(ctx, "offline announce skipped, friend lookup failed: user=%s err=%v", userID, err)
		return
	}
	d.publishUserStatus(ctx, userID, false, pairs)
}

// publishUserStatus announces a presence change to each friend on their
// own user scope, so per-friend ordering is preserved.
func (d *Dispatcher) publishUserStatus(ctx context.Context, userID string, online bool, pairs []data.FriendPair) {
	payload := UserStatusPayload{UserID: userID, Online: online}
	for _, pair := range pairs {
		if _, err := d.pub.Publish(ctx, bus.EventUserStatusUpdate, bus.UserScope(pair.FriendID), payload); err != nil {
			d.logger.Errorf(ctx, "status publish failed: user=%s friend=%s err=%v", userID, pair.FriendID, err)
		}
	}
}

// sendFriendsSnapshot pushes the friends_status snapshot to a fresh
// connection and returns the friend pairs for reuse by the online
// announcement. A lookup failure degrades to no snapshot.
func (d *Dispatcher) sendFriendsSnapshot(ctx context.Context, c *Connection) []data.FriendPair {
	pairs, err := d.store.GetFriendPairStatus(ctx, c.UserID())
	if err != nil {
		d.logger.Warnf(ctx, "friends snapshot skipped: user=%s err=%v", c.UserID(), err)
		return nil
	}
	if len(pairs) == 0 {
		c.SendEvent(EventFriendsStatus, FriendsStatusPayload{Friends: []FriendStatus{}})
		return pairs
	}

	ids := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		ids = append(ids, pair.FriendID)
	}
	online, err := d.presence.OnlineSet(ctx, ids)
	if err != nil {
		d.logger.Warnf(ctx, "friend presence lookup failed: user=%s err=%v", c.UserID(), err)
		online = map[string]bool{}
	}

	friends := make([]FriendStatus, 0, len(pairs))
	for _, pair := range pairs {
		friends = append(friends, FriendStatus{
			FriendID: pair.FriendID,
			Status:   pair.Status,
			Online:   online[pair.FriendID],
		})
	}
	c.SendEvent(EventFriendsStatus, FriendsStatusPayload{Friends: friends})
	return pairs
}

// Shutdown notifies every live connection with a disconnecting event,
// waits for outbound buffers to drain, then closes the transports.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	handles := d.reg.ListAll()
	d.logger.Infof(ctx, "shutting down, notifying %d connections", len(handles))

	for _, h := range handles {
		if s, ok := h.(sender); ok {
			s.SendEvent(EventDisconnecting, DisconnectingPayload{Reason: "server shutting down"})
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.ShutdownDrain):
	}

	for _, h := range handles {
		if s, ok := h.(sender); ok {
			s.Close()
		}
		d.reg.Remove(h)
	}
}
