package audit

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher_RoundTripsThroughStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	pub := NewRedisPublisher(client, "audit:events")

	event := NewEvent(UserDeleted)
	event.ActorID = 1
	event.TargetID = 2
	require.NoError(t, pub.Publish(ctx, event))

	msgs, err := client.XRange(ctx, "audit:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user.deleted", msgs[0].Values["type"])

	got, err := Decode(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, UserDeleted, got.Type)
	assert.Equal(t, int64(2), got.TargetID)
	assert.True(t, event.OccurredAt.Equal(got.OccurredAt))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []map[string]any{
		{},
		{"event": 12},
		{"event": "{not json"},
		{"event": `{"id":""}`},
	}
	for _, values := range tests {
		_, err := Decode(values)
		assert.ErrorIs(t, err, ErrMalformedMessage)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(zerolog.New(&buf))

	event := NewEvent(LoginBlocked)
	event.Email = "a@x.com"
	require.NoError(t, pub.Publish(context.Background(), event))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"type":"login.blocked"`)
	assert.Contains(t, out, `"component":"audit"`)
}
