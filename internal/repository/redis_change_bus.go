package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

type changeMessage struct {
	Collection models.Collection `json:"collection"`
	Origin     string            `json:"origin"`
}

// RedisChangeBus fans change signals out to every process sharing the store.
// Messages carry the collection name and the publisher's origin id so a
// process can ignore its own echoes.
type RedisChangeBus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedisChangeBus builds a bus publishing on channel.
func NewRedisChangeBus(client *redis.Client, channel string, logger *zap.Logger) *RedisChangeBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChangeBus{client: client, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Publish announces that a collection changed.
func (b *RedisChangeBus) Publish(ctx context.Context, collection models.Collection) error {
	payload, err := json.Marshal(changeMessage{Collection: collection, Origin: b.origin})
	if err != nil {
		return fmt.Errorf("marshal change message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Listen delivers changes published by other processes until ctx is done.
func (b *RedisChangeBus) Listen(ctx context.Context, fn func(models.Collection)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Warn("ignoring malformed change message", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if change.Origin == b.origin || change.Collection == "" {
				continue
			}
			fn(change.Collection)
		}
	}
}
