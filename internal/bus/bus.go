// Package bus is the distributed event bus: a partitioned, ordered,
// at-least-once log over NATS JetStream. Every gateway process runs one
// publisher and one durable consumer; events published anywhere are
// redelivered to every process, which re-emits them to the connections it
// owns.
package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"chat-gateway/internal/types"
	"chat-gateway/pkg/log"
)

// Config holds bus behavior knobs.
type Config struct {
	// Stream is the JetStream stream name backing the bus.
	Stream string

	// ProcessID names this process's durable consumer and stamps the
	// origin field of published events.
	ProcessID string

	// PublishRetries bounds publish attempts before surfacing a
	// PublishError to the caller.
	PublishRetries int

	// PublishBackoff is the initial backoff between publish attempts;
	// doubled each retry.
	PublishBackoff time.Duration

	// MaxDeliveries bounds redeliveries of a failing event before it is
	// logged and skipped (poison containment).
	MaxDeliveries int

	// AckWait is how long JetStream waits for an ack before redelivery.
	AckWait time.Duration
}

// Handler consumes one event. It must be idempotent: at-least-once
// delivery means it can run more than once for the same event.
type Handler func(ctx context.Context, evt Event) error

// Bus is the JetStream-backed event bus for one gateway process.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    Config
	logger log.Logger
	seq    atomic.Uint64

	// publishFn is swapped in tests.
	publishFn func(ctx context.Context, subject string, data []byte) error
}

// New binds a Bus to an existing NATS connection, creating the backing
// stream if needed.
func New(ctx context.Context, nc *nats.Conn, cfg Config, logger log.Logger) (*Bus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{AllSubjects},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	b := &Bus{
		nc:     nc,
		js:     js,
		stream: stream,
		cfg:    cfg,
		logger: logger,
	}
	b.publishFn = func(ctx context.Context, subject string, data []byte) error {
		_, err := js.Publish(ctx, subject, data)
		return err
	}
	return b, nil
}

// Publish builds an envelope for payload and publishes it under the
// scope's subject, retrying with bounded exponential backoff. On
// exhaustion the caller gets a PublishError; the triggering user action
// is the one that reports failure.
func (b *Bus) Publish(ctx context.Context, evtType EventType, scope Scope, payload any) (Event, error) {
	evt, err := NewEvent(evtType, scope, payload, b.cfg.ProcessID, b.seq.Add(1))
	if err != nil {
		return Event{}, err
	}
	if err := b.PublishEvent(ctx, evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// PublishEvent publishes a pre-built envelope.
func (b *Bus) PublishEvent(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	subject := evt.Subject()
	backoff := b.cfg.PublishBackoff
	attempts := b.cfg.PublishRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = b.publishFn(ctx, subject, data)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		b.logger.Warnf(ctx, "bus publish attempt %d/%d failed: subject=%s err=%v", attempt, attempts, subject, lastErr)
		select {
		case <-ctx.Done():
			return &types.PublishError{Subject: subject, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &types.PublishError{Subject: subject, Attempts: attempts, Err: lastErr}
}

// ConsumeLoop delivers bus events to handler, in per-subject publish
// order, until ctx is canceled. The durable consumer resumes from the
// last committed position across restarts, so a restart replays rather
// than loses events. An event still failing after MaxDeliveries
// deliveries is logged and acked away so it cannot block its partition.
func (b *Bus) ConsumeLoop(ctx context.Context, handler Handler) error {
	cons, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "gw-" + sanitizeToken(b.cfg.ProcessID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       b.cfg.AckWait,
	})
	if err != nil {
		return err
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		b.handleMsg(ctx, msg, handler)
	})
	if err != nil {
		return err
	}
	defer cc.Stop()

	b.logger.Infof(ctx, "bus consumer started: stream=%s durable=gw-%s", b.cfg.Stream, sanitizeToken(b.cfg.ProcessID))
	<-ctx.Done()
	b.logger.Info(ctx, "bus consumer stopping")
	return nil
}

func (b *Bus) handleMsg(ctx context.Context, msg jetstream.Msg, handler Handler) {
	var evt Event
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		// Undecodable events can never succeed; drop immediately.
		b.logger.Errorf(ctx, "bus event undecodable, dropping: subject=%s err=%v", msg.Subject(), err)
		msg.Ack()
		return
	}

	if err := handler(ctx, evt); err != nil {
		deliveries := 1
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			deliveries = int(meta.NumDelivered)
		}
		if b.exhausted(deliveries) {
			b.logger.Errorf(ctx, "bus event failed %d deliveries, skipping: id=%s type=%s err=%v", deliveries, evt.ID, evt.Type, err)
			msg.Ack()
			return
		}
		b.logger.Warnf(ctx, "bus event handler failed, will redeliver: id=%s type=%s delivery=%d err=%v", evt.ID, evt.Type, deliveries, err)
		msg.Nak()
		return
	}
	msg.Ack()
}

// exhausted decides whether a failing event has used up its delivery
// budget and must be skipped.
func (b *Bus) exhausted(deliveries int) bool {
	max := b.cfg.MaxDeliveries
	if max < 1 {
		max = 1
	}
	return deliveries >= max
}
