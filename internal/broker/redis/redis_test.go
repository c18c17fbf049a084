package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/meeting-scheduler/internal/broker"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	server := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := Dial(ctx, Options{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	sub, err := b.Subscribe(ctx, "user-events")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "user-events", []byte(`{"event_type":"create"}`)))

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"create"}`, string(msg))
}

func TestSubscription_ReceiveHonorsContext(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	b, err := Dial(ctx, Options{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	sub, err := b.Subscribe(ctx, "user-events")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = sub.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sub.Close())
	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, broker.ErrClosed)
}

func TestDial_Unreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, Options{Addr: addr})
	assert.Error(t, err)
}
