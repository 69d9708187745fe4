// Package presence adapts the Redis-backed presence store: TTL heartbeat
// keys per connection, and an expired-key notification stream used to
// detect users going offline. A user is online iff at least one unexpired
// heartbeat key exists for them, across every gateway process.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-gateway/internal/types"
	"chat-gateway/pkg/log"
	"chat-gateway/pkg/redis"
)

const keyPrefix = "presence:"

// heartbeatKey builds the store key for one connection's heartbeat.
func heartbeatKey(userID, connID string) string {
	return keyPrefix + userID + ":" + connID
}

// parseHeartbeatKey extracts the user id from a heartbeat key. The
// connection id is a uuid and never contains ':', so the split is on the
// last separator.
func parseHeartbeatKey(key string) (userID string, ok bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	rest := key[len(keyPrefix):]
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

// Store is the presence store adapter.
type Store struct {
	client    *redis.Client
	logger    log.Logger
	resubWait time.Duration
}

// NewStore creates a Store over an established Redis client.
func NewStore(client *redis.Client, logger log.Logger, resubWait time.Duration) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		resubWait: resubWait,
	}
}

// Heartbeat refreshes (or creates) the presence key for a connection.
// Keys are never explicitly deleted: disconnects leave them to expire so
// abrupt drops and reconnect flaps resolve through TTL alone.
func (s *Store) Heartbeat(ctx context.Context, userID, connID string, ttl time.Duration) error {
	token := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.client.Set(ctx, heartbeatKey(userID, connID), token, ttl).Err(); err != nil {
		return &types.PresenceStoreError{Op: "heartbeat", Err: err}
	}
	return nil
}

// IsOnline reports whether any unexpired heartbeat key exists for the
// user, on any process.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	iter := s.client.Scan(ctx, 0, keyPrefix+userID+":*", 16).Iterator()
	if iter.Next(ctx) {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, &types.PresenceStoreError{Op: "scan", Err: err}
	}
	return false, nil
}

// OnlineSet resolves online status for a set of users in one pass.
func (s *Store) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		online, err := s.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		result[userID] = online
	}
	return result, nil
}

// SubscribeExpiry returns an unbounded stream of user ids whose heartbeat
// key just expired. The underlying pattern subscription is restarted with
// backoff whenever the notification channel drops, until ctx is canceled.
// Only the current leader consumes this stream.
func (s *Store) SubscribeExpiry(ctx context.Context) <-chan string {
	out := make(chan string, 64)
	go s.expiryLoop(ctx, out)
	return out
}

func (s *Store) expiryLoop(ctx context.Context, out chan<- string) {
	defer close(out)

	pattern := fmt.Sprintf("__keyevent@%d__:expired", s.client.DB())
	for ctx.Err() == nil {
		pubsub := s.client.PSubscribe(ctx, pattern)
		s.logger.Infof(ctx, "presence expiry subscription active: pattern=%s", pattern)

		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				userID, valid := parseHeartbeatKey(msg.Payload)
				if !valid {
					continue // some other key expired
				}
				select {
				case out <- userID:
				case <-ctx.Done():
					pubsub.Close()
					return
				}
			}
		}

		pubsub.Close()
		s.logger.Warnf(ctx, "presence expiry subscription dropped, resubscribing in %s", s.resubWait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.resubWait):
		}
	}
}
