package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrisense-cloud/internal/realtime"
)

const defaultChannel = "agrisense:signals"

type envelope struct {
	Origin string    `json:"origin"`
	Topic  string    `json:"topic"`
	At     time.Time `json:"at"`
}

// Bridge relays hub signals between instances over Redis pub/sub.
type Bridge struct {
	hub     *realtime.Hub
	client  *redis.Client
	channel string
	origin  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewBridge constructs a bridge. Publish goes to the local hub and to Redis.
func NewBridge(hub *realtime.Hub, client *redis.Client, channel string, logger *zap.Logger) (*Bridge, error) {
	if hub == nil {
		return nil, errors.New("realtime bridge: nil hub")
	}
	if client == nil {
		return nil, errors.New("realtime bridge: nil redis client")
	}
	if channel == "" {
		channel = defaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		timeout: time.Second,
		logger:  logger,
	}, nil
}

// Publish signals local subscribers and forwards the signal to other instances.
// Redis failures are logged only.
func (b *Bridge) Publish(ctx context.Context, topic string) {
	b.hub.Publish(ctx, topic)

	payload, err := json.Marshal(envelope{Origin: b.origin, Topic: topic, At: time.Now().UTC()})
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.client.Publish(pubCtx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("realtime bridge: publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Run relays signals from other instances into the local hub until ctx is done.
// It returns once the subscription is confirmed via ready, if non-nil.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime bridge: subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info("realtime bridge started", zap.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Debug("realtime bridge: bad payload", zap.Error(err))
				continue
			}
			if env.Origin == b.origin || !realtime.ValidTopic(env.Topic) {
				continue
			}
			b.hub.Publish(ctx, env.Topic)
		}
	}
}
