package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPubSub_PatternDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ps, err := New(Config{Driver: "redis"}, client, "node-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ps.SubscribePattern(ctx, PatternRoomRelay)
	require.NoError(t, err)

	sent := NewEvent(EventRoomBroadcast, "team:blue", "node-b", []byte(`{"type":"user_list"}`))
	require.NoError(t, ps.Publish(ctx, RoomRelayChannel("team:blue"), sent))

	select {
	case got := <-events:
		assert.Equal(t, "team:blue", got.Room)
		assert.Equal(t, "node-b", got.Origin)
		assert.JSONEq(t, `{"type":"user_list"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, ps.Close())
	assert.NoError(t, client.Ping(ctx).Err(), "shared client stays open")
}
