// Package leader elects the single gateway process that subscribes to the
// global presence-expiry stream, so offline events are published exactly
// once. The lease lives in a TTL'd JetStream KV bucket: whoever creates
// the key holds the lease and renews it with a revision-checked update;
// if the holder dies the key expires and another process takes over.
package leader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"chat-gateway/pkg/log"
)

// Config holds lease parameters.
type Config struct {
	Bucket            string
	Key               string
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
}

// Election runs lease acquisition and renewal for one process.
type Election struct {
	kv         jetstream.KeyValue
	instanceID string
	cfg        Config
	logger     log.Logger
	isLeader   atomic.Bool

	onAcquire func()
	onLose    func()
}

// New creates an Election backed by a TTL'd KV bucket, creating the
// bucket if needed. onAcquire/onLose fire on leadership transitions and
// may be nil.
func New(ctx context.Context, nc *nats.Conn, cfg Config, logger log.Logger, onAcquire, onLose func()) (*Election, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Bucket,
		TTL:    cfg.LeaseTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Election{
		kv:         kv,
		instanceID: uuid.New().String(),
		cfg:        cfg,
		logger:     logger,
		onAcquire:  onAcquire,
		onLose:     onLose,
	}, nil
}

// InstanceID returns this process's candidate identity.
func (e *Election) InstanceID() string { return e.instanceID }

// IsLeader reports whether this process currently holds the lease.
func (e *Election) IsLeader() bool { return e.isLeader.Load() }

// Run campaigns and renews until ctx is canceled, then steps down.
func (e *Election) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	e.campaign(ctx)

	for {
		select {
		case <-ctx.Done():
			e.stepDown()
			return
		case <-ticker.C:
			if e.isLeader.Load() {
				e.renew(ctx)
			} else {
				e.campaign(ctx)
			}
		}
	}
}

func (e *Election) campaign(ctx context.Context) {
	_, err := e.kv.Create(ctx, e.cfg.Key, []byte(e.instanceID))
	if err == nil {
		e.setLeader(ctx, true)
		return
	}

	// Key exists; check whether a stale run of this instance still holds it.
	entry, err := e.kv.Get(ctx, e.cfg.Key)
	if err != nil {
		return // between expiry and create; next tick retries
	}
	if string(entry.Value()) == e.instanceID {
		e.setLeader(ctx, true)
	}
}

func (e *Election) renew(ctx context.Context) {
	entry, err := e.kv.Get(ctx, e.cfg.Key)
	if err != nil {
		e.logger.Warnf(ctx, "leadership lost, lease key gone: instance=%s", e.instanceID)
		e.setLeader(ctx, false)
		return
	}
	if string(entry.Value()) != e.instanceID {
		e.logger.Warnf(ctx, "leadership lost to %s: instance=%s", string(entry.Value()), e.instanceID)
		e.setLeader(ctx, false)
		return
	}
	if _, err := e.kv.Update(ctx, e.cfg.Key, []byte(e.instanceID), entry.Revision()); err != nil {
		e.logger.Warnf(ctx, "lease renewal failed: instance=%s err=%v", e.instanceID, err)
		e.setLeader(ctx, false)
	}
}

func (e *Election) stepDown() {
	if !e.isLeader.Load() {
		return
	}
	ctx := context.Background()
	entry, err := e.kv.Get(ctx, e.cfg.Key)
	if err == nil && string(entry.Value()) == e.instanceID {
		e.kv.Delete(ctx, e.cfg.Key)
		e.logger.Infof(ctx, "stepped down as leader: instance=%s", e.instanceID)
	}
	e.setLeader(ctx, false)
}

func (e *Election) setLeader(ctx context.Context, leader bool) {
	was := e.isLeader.Swap(leader)
	if was == leader {
		return
	}
	if leader {
		e.logger.Infof(ctx, "became leader: instance=%s key=%s", e.instanceID, e.cfg.Key)
		if e.onAcquire != nil {
			e.onAcquire()
		}
		return
	}
	if e.onLose != nil {
		e.onLose()
	}
}
