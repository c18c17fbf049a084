package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/meeting-scheduler/internal/broker"
	"github.com/example/meeting-scheduler/internal/broker/memory"
)

const userID = "0190c7a4-2f3e-7b1c-9d2a-5e6f7a8b9c0d"

func publishAndReceive(t *testing.T, publish func(p *Publisher) error) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := memory.New(4)
	sub, err := b.Subscribe(ctx, "user-events")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, publish(NewPublisher(b, nil, nil)))

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestPublisher_GoldenEnvelopes(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	created := publishAndReceive(t, func(p *Publisher) error {
		return p.Publish(context.Background(), EventCreate, "User", map[string]any{
			"id":              userID,
			"email":           "ada@example.com",
			"first_name":      "Ada",
			"last_name":       "Lovelace",
			"password":        "correct horse",
			"hashed_password": "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		})
	})
	g.Assert(t, "user_create_envelope", created)

	deleted := publishAndReceive(t, func(p *Publisher) error {
		return p.Publish(context.Background(), EventDelete, "User", map[string]any{"id": userID})
	})
	g.Assert(t, "user_delete_envelope", deleted)
}

func TestPublisher_CustomSensitiveFields(t *testing.T) {
	ctx := context.Background()
	b := memory.New(1)
	sub, err := b.Subscribe(ctx, "user-events")
	require.NoError(t, err)
	defer sub.Close()

	p := NewPublisher(b, []string{"email"}, nil)
	require.NoError(t, p.Publish(ctx, EventUpdate, "User", map[string]any{
		"id":       userID,
		"email":    "ada@example.com",
		"password": "kept",
	}))

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	envelope, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, EventUpdate, envelope.EventType)
	assert.NotContains(t, envelope.Payload, "email")
	assert.Equal(t, "kept", envelope.Payload["password"])
}

func TestPublisher_RejectsUnknownEventType(t *testing.T) {
	p := NewPublisher(memory.New(1), nil, nil)
	err := p.Publish(context.Background(), EventType("upsert"), "User", nil)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestPublisher_ReportsTransportError(t *testing.T) {
	b := memory.New(1)
	require.NoError(t, b.Close())

	p := NewPublisher(b, nil, nil)
	err := p.Publish(context.Background(), EventCreate, "User", map[string]any{"id": userID})
	assert.ErrorIs(t, err, broker.ErrClosed)
}

func TestPublisher_PublishAfterCommitLogsFailure(t *testing.T) {
	b := memory.New(1)
	require.NoError(t, b.Close())

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := NewPublisher(b, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PublishAfterCommit(ctx, EventCreate, "User", map[string]any{"id": userID})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "event publish failed", record["msg"])
	assert.Equal(t, "user-events", record["channel"])
	assert.Equal(t, "create", record["event_type"])
}

func TestPublisher_PublishAfterCommitIgnoresCallerCancellation(t *testing.T) {
	b := memory.New(1)
	sub, err := b.Subscribe(context.Background(), "user-events")
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewPublisher(b, nil, nil).PublishAfterCommit(ctx, EventDelete, "User", map[string]any{"id": userID})

	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(msg), userID)
}

func TestChannelName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user-events", ChannelName("User"))
	assert.Equal(t, "meeting-events", ChannelName("MEETING"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"event_type":"create","model":"User","payload":{"id":7}}`},
		{name: "unknown type still decodes", raw: `{"event_type":"merge","model":"User","payload":{}}`},
		{name: "not json", raw: `not json`, wantErr: true},
		{name: "missing model", raw: `{"event_type":"create","payload":{}}`, wantErr: true},
		{name: "payload not object", raw: `{"event_type":"create","model":"User","payload":[1]}`, wantErr: true},
		{name: "missing payload", raw: `{"event_type":"create","model":"User"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			envelope, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidEnvelope), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "User", envelope.Model)
		})
	}

	envelope, err := Decode([]byte(`{"event_type":"create","model":"User","payload":{"id":7}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), envelope.Payload["id"])
}
