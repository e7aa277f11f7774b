package events_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/events"
	"github.com/warp/progress-engine/tracker"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "progress:user-1", events.Channel("user-1"))
}

func TestRedisPublisher_ReportsUnreachableServer(t *testing.T) {
	// GIVEN: A client pointed at a port nothing listens on
	// WHEN: Publishing an event
	// THEN: The error names the event type

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	p := &events.RedisPublisher{Client: client}

	err := p.Publish(context.Background(), tracker.Event{Type: tracker.EventActivityLogged, UserID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity_logged")
}

func TestRedisPublisher_DeliversToSubscriber(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	p, err := events.NewRedisPublisher(ctx, addr, "", 0)
	require.NoError(t, err)
	defer p.Close()

	sub := p.Client.Subscribe(ctx, events.Channel("user-1"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	sent := tracker.Event{
		Type:       tracker.EventActivityLogged,
		UserID:     "user-1",
		ActivityID: "act-1",
		TaskIDs:    []string{"task-1"},
		At:         time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(ctx, sent))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got tracker.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, sent, got)
}
