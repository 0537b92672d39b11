package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all processes.
const DefaultRelayChannel = "clawkpit:events"

const (
	relayOutboxSize = 256
	publishTimeout  = 2 * time.Second
)

type envelope struct {
	Origin string `json:"origin"`
	UserID string `json:"user_id"`
	Event  Event  `json:"event"`
}

// RedisRelay fans events out between server processes over Redis pub/sub.
// Each process tags what it publishes and ignores its own messages, since
// the hub has already delivered those locally. Outgoing events queue in an
// outbox that Run drains.
type RedisRelay struct {
	rdb     *redis.Client
	outbox  chan envelope
	channel string
	origin  string
	hub     *Hub
	ready   chan struct{}
	logger  *slog.Logger
}

// NewRedisRelay connects to the Redis server at url and relays to hub.
func NewRedisRelay(url string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisRelayWithOptions(opts, hub), nil
}

func NewRedisRelayWithOptions(opts *redis.Options, hub *Hub) *RedisRelay {
	return &RedisRelay{
		rdb:     redis.NewClient(opts),
		outbox:  make(chan envelope, relayOutboxSize),
		channel: DefaultRelayChannel,
		origin:  uuid.New().String(),
		hub:     hub,
		ready:   make(chan struct{}),
		logger:  slog.Default(),
	}
}

// Ping verifies Redis connectivity.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

// Ready is closed once the relay's subscription is live.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Publish queues ev for the other processes. When the outbox is full the
// event is dropped.
func (r *RedisRelay) Publish(userID string, ev Event) {
	select {
	case r.outbox <- envelope{Origin: r.origin, UserID: userID, Event: ev}:
	default:
		r.logger.Warn("relay outbox full, dropping event", "user_id", userID)
	}
}

func (r *RedisRelay) send(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling relay event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing relay event: %w", err)
	}
	return nil
}

func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.outbox:
			if err := r.send(ctx, env); err != nil {
				r.logger.Warn("relay publish failed", "user_id", env.UserID, "error", err)
			}
		}
	}
}

// Run publishes queued events and delivers events from other processes to
// the hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.drain(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	close(r.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("skipping malformed relay event", "error", err)
				continue
			}
			if env.Origin == r.origin || env.UserID == "" {
				continue
			}
			r.hub.Deliver(env.UserID, env.Event)
		}
	}
}
