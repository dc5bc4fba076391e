// Package events publishes card lifecycle transitions to other systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

// RedisChannel carries JSON-encoded domain.CardEvent values.
const RedisChannel = "cards:events"

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(addr string, password string, db int) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPublisher{client: rdb}
}

func (r *RedisPublisher) Publish(ctx context.Context, event domain.CardEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.client.Publish(ctx, RedisChannel, data).Err()
}

func (r *RedisPublisher) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

// DecodeEvent parses a payload produced by Publish.
func DecodeEvent(payload []byte) (domain.CardEvent, error) {
	var ev domain.CardEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.CardEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
