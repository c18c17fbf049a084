// Package eventlog implements the broker on a durable append-only SQL log.
//
// Every published message is appended to event_log. A subscription reads
// the rows after the consumer's saved cursor and advances the cursor when
// the next message is requested, so a message handed out but not yet
// acknowledged is delivered again after a restart.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/example/meeting-scheduler/internal/broker"
	"github.com/example/meeting-scheduler/internal/persistence"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 100
)

// Option customizes a Broker.
type Option func(*Broker)

// WithPollInterval sets how long an idle subscription waits between reads.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithBatchSize sets how many rows a subscription reads at once.
func WithBatchSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithClock overrides the timestamp source for appended rows.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// Broker reads and writes the event log on behalf of one named consumer.
type Broker struct {
	events       persistence.EventLogRepository
	consumer     string
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

// New creates a broker whose subscriptions track cursors under consumer.
func New(events persistence.EventLogRepository, consumer string, opts ...Option) *Broker {
	b := &Broker{
		events:       events,
		consumer:     consumer,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends message to the channel's log.
func (b *Broker) Publish(ctx context.Context, channel string, message []byte) error {
	if _, err := b.events.AppendEvent(ctx, channel, message, b.now().UTC()); err != nil {
		return fmt.Errorf("append to %s: %w", channel, err)
	}
	return nil
}

// Subscribe resumes the consumer from its saved cursor.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	cursor, err := b.events.GetCursor(ctx, b.consumer, channel)
	if err != nil {
		return nil, fmt.Errorf("load cursor for %s/%s: %w", b.consumer, channel, err)
	}
	return &subscription{
		broker:   b,
		channel:  channel,
		readFrom: cursor,
		done:     make(chan struct{}),
	}, nil
}

type subscription struct {
	broker  *Broker
	channel string

	readFrom int64
	pending  int64
	buffered []persistence.LoggedEvent

	done   chan struct{}
	closed bool
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, broker.ErrClosed
	}
	if err := s.ack(ctx); err != nil {
		return nil, err
	}

	for {
		if len(s.buffered) > 0 {
			event := s.buffered[0]
			s.buffered = s.buffered[1:]
			s.pending = event.Sequence
			return event.Body, nil
		}

		events, err := s.broker.events.ReadEvents(ctx, s.channel, s.readFrom, s.broker.batchSize)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.channel, err)
		}
		if len(events) > 0 {
			s.buffered = events
			s.readFrom = events[len(events)-1].Sequence
			continue
		}

		timer := time.NewTimer(s.broker.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, broker.ErrClosed
		case <-timer.C:
		}
	}
}

// ack saves the cursor of the message handed out by the previous Receive.
func (s *subscription) ack(ctx context.Context) error {
	if s.pending == 0 {
		return nil
	}
	if err := s.broker.events.SaveCursor(ctx, s.broker.consumer, s.channel, s.pending); err != nil {
		return fmt.Errorf("save cursor for %s/%s: %w", s.broker.consumer, s.channel, err)
	}
	s.pending = 0
	return nil
}

func (s *subscription) Close() error {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
