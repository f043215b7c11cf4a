package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smartengo-backend/internal/util"
)

// RedisBridge shares one change feed between several instances: events
// published locally are forwarded to a Redis channel, and events other
// instances forwarded are re-published on the local hub.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
}

// NewRedisBridge creates a bridge between hub and the Redis channel.
func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, channel: channel, hub: hub}
}

// Run pumps events in both directions until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe to %s failed: %w", b.channel, err)
	}

	local := b.hub.Subscribe(256)
	defer local.Cancel()

	remote := pubsub.Channel()
	util.GetLogger().Info("Redis change feed bridge started", zap.String("channel", b.channel))

	for {
		select {
		case <-ctx.Done():
			util.GetLogger().Info("Redis change feed bridge stopped")
			return nil
		case e, ok := <-local.C:
			if !ok {
				return nil
			}
			if err := b.forward(ctx, e); err != nil {
				util.GetLogger().Warn("Failed to forward event to redis",
					zap.String("event_id", e.ID), zap.Error(err))
			}
		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

// forward publishes events that originated on this instance.
func (b *RedisBridge) forward(ctx context.Context, e Event) error {
	if e.Origin != b.hub.ID() {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// deliver re-publishes an event from another instance. Our own events come
// back through the channel too and are skipped.
func (b *RedisBridge) deliver(payload string) bool {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		util.GetLogger().Warn("Discarding malformed event from redis", zap.Error(err))
		return false
	}
	if e.Origin == "" || e.Origin == b.hub.ID() {
		return false
	}
	b.hub.Publish(e)
	return true
}
