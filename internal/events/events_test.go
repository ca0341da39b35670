package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublisher_EventShape(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr)

	sub := client.Subscribe(context.Background(), DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	pub := NewPublisher(client, "instance-a")
	pub.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, pub.TasksChanged(context.Background(), "alice"))

	select {
	case msg := <-sub.Channel():
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, map[string]interface{}{
			"owner_id":   "alice",
			"changed_at": "2024-01-02T03:04:05Z",
			"origin":     "instance-a",
		}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a published message")
	}
}

func TestSubscriber_DeliversOtherOriginsOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr)

	received := make(chan TaskChangeEvent, 4)
	sub := NewSubscriber(client, "instance-a")
	require.NoError(t, sub.Start(context.Background(), func(ctx context.Context, event TaskChangeEvent) {
		received <- event
	}))
	defer sub.Stop()

	require.NoError(t, NewPublisher(client, "instance-a").TasksChanged(context.Background(), "self"))
	mr.Publish(DefaultChannel, "not json")
	require.NoError(t, NewPublisher(client, "instance-b").TasksChanged(context.Background(), "alice"))

	select {
	case event := <-received:
		assert.Equal(t, "alice", event.OwnerID)
		assert.Equal(t, "instance-b", event.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected event from the other instance")
	}

	select {
	case event := <-received:
		t.Fatalf("Unexpected extra event %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriber_StartTwiceAndStop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr)

	sub := NewSubscriber(client, NewOrigin())
	noop := func(context.Context, TaskChangeEvent) {}

	require.NoError(t, sub.Start(context.Background(), noop))
	assert.Error(t, sub.Start(context.Background(), noop))

	assert.NoError(t, sub.Stop())
	assert.NoError(t, sub.Stop())
}

func TestSubscriber_StartFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := NewSubscriber(client, "x").Start(ctx, func(context.Context, TaskChangeEvent) {})
	assert.Error(t, err)
}

func TestNewOrigin_IsUnique(t *testing.T) {
	assert.NotEqual(t, NewOrigin(), NewOrigin())
}
