// Package events delivers tracker events to subscribers outside the process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/progress-engine/tracker"
)

// ChannelPrefix is prepended to the user id to form the pub/sub channel.
const ChannelPrefix = "progress:"

// RedisPublisher publishes each event as JSON on the owner's channel.
type RedisPublisher struct {
	Client *redis.Client
}

// NewRedisPublisher connects to addr and checks the connection.
func NewRedisPublisher(ctx context.Context, addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{Client: client}, nil
}

// Channel returns the channel events for userID are published on.
func Channel(userID string) string {
	return ChannelPrefix + userID
}

func (p *RedisPublisher) Publish(ctx context.Context, e tracker.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.Client.Publish(ctx, Channel(e.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.Client.Close()
}

var _ tracker.Publisher = (*RedisPublisher)(nil)
