package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/meeting-scheduler/internal/broker"
	"github.com/example/meeting-scheduler/internal/logging"
)

// DefaultSensitiveFields are stripped from every payload unless the
// publisher is configured otherwise.
var DefaultSensitiveFields = []string{"password", "hashed_password"}

const afterCommitTimeout = 5 * time.Second

// Publisher sends envelopes to a broker.
type Publisher struct {
	broker    broker.Broker
	sensitive map[string]struct{}
	logger    *slog.Logger
}

// NewPublisher creates a publisher. A nil sensitiveFields selects
// DefaultSensitiveFields; an empty non-nil slice strips nothing.
func NewPublisher(b broker.Broker, sensitiveFields []string, logger *slog.Logger) *Publisher {
	if sensitiveFields == nil {
		sensitiveFields = DefaultSensitiveFields
	}
	if logger == nil {
		logger = slog.Default()
	}
	sensitive := make(map[string]struct{}, len(sensitiveFields))
	for _, field := range sensitiveFields {
		sensitive[field] = struct{}{}
	}
	return &Publisher{broker: b, sensitive: sensitive, logger: logger}
}

// Publish sends one envelope on the model's channel and reports the
// transport error, if any.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, model string, payload map[string]any) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEnvelope, eventType)
	}
	data, err := Encode(Envelope{EventType: eventType, Model: model, Payload: p.sanitize(payload)})
	if err != nil {
		return err
	}
	channel := ChannelName(model)
	if err := p.broker.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("publish %s %s: %w", model, eventType, err)
	}
	return nil
}

// PublishAfterCommit publishes a change whose local write has already
// committed. Failures are logged and dropped, never retried. The caller's
// cancellation does not abort the send.
func (p *Publisher) PublishAfterCommit(ctx context.Context, eventType EventType, model string, payload map[string]any) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()

	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = p.logger
	}
	logger = logger.With(
		slog.String("channel", ChannelName(model)),
		slog.String("event_type", string(eventType)),
	)

	if err := p.Publish(sendCtx, eventType, model, payload); err != nil {
		logger.ErrorContext(ctx, "event publish failed", slog.Any("error", err))
		return
	}
	logger.DebugContext(ctx, "event published")
}

func (p *Publisher) sanitize(payload map[string]any) map[string]any {
	clean := make(map[string]any, len(payload))
	for key, value := range payload {
		if _, drop := p.sensitive[key]; drop {
			continue
		}
		clean[key] = value
	}
	return clean
}
