// Package replication keeps the local user replica in step with the change
// events published by the user service.
//
// Delivery is at-least-once and events may be reordered across reconnects,
// so every mutation is idempotent: creates insert only when absent, updates
// patch only the fields present, and deletes tolerate a missing row.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/broker"
	"github.com/example/meeting-scheduler/internal/events"
	"github.com/example/meeting-scheduler/internal/persistence"
)

// State is the replicator's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribed
	StateConsuming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome classifies what Handle did with one envelope.
type Outcome int

const (
	// Applied means the replica changed.
	Applied Outcome = iota
	// Ignored means the envelope was valid but changed nothing.
	Ignored
	// MissingTarget means an update named a row that does not exist.
	MissingTarget
	// Malformed means the envelope could not be decoded or validated.
	Malformed
	// Failed means storage rejected the mutation.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case MissingTarget:
		return "missing_target"
	case Malformed:
		return "malformed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// replicaFields are the payload keys copied into the replica.
var replicaFields = []string{"id", "email", "first_name", "last_name"}

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Option customizes a Replicator.
type Option func(*Replicator)

// WithBackoff bounds the delay between resubscription attempts.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(r *Replicator) {
		if initial > 0 {
			r.initialBackoff = initial
		}
		if ceiling >= r.initialBackoff {
			r.maxBackoff = ceiling
		}
	}
}

// WithClock overrides the timestamp recorded on replica rows.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) {
		if now != nil {
			r.now = now
		}
	}
}

// WithModel selects which model's channel to follow. The default is the
// user model.
func WithModel(model string) Option {
	return func(r *Replicator) {
		if model != "" {
			r.model = model
		}
	}
}

// Replicator consumes user change envelopes and applies them to the
// replicated_users table.
type Replicator struct {
	broker broker.Broker
	store  persistence.Store
	logger *slog.Logger
	schema *schema

	model          string
	now            func() time.Time
	initialBackoff time.Duration
	maxBackoff     time.Duration

	state atomic.Int32
}

// New builds a replicator. It fails only when the embedded schema does not
// compile.
func New(b broker.Broker, store persistence.Store, logger *slog.Logger, opts ...Option) (*Replicator, error) {
	sch, err := loadSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Replicator{
		broker:         b,
		store:          store,
		logger:         logger.With("component", "replicator"),
		schema:         sch,
		model:          application.UserModel,
		now:            time.Now,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State reports the current connection state.
func (r *Replicator) State() State {
	return State(r.state.Load())
}

func (r *Replicator) setState(s State) {
	if previous := State(r.state.Swap(int32(s))); previous != s {
		r.logger.Debug("replicator state changed", "from", previous.String(), "to", s.String())
	}
}

// Channel returns the channel the replicator follows.
func (r *Replicator) Channel() string {
	return events.ChannelName(r.model)
}

// Run subscribes and applies envelopes until ctx is cancelled. Transport
// failures are retried with exponential backoff. Run returns nil once
// stopped by cancellation.
func (r *Replicator) Run(ctx context.Context) error {
	if r.broker == nil || r.store == nil {
		return errors.New("replicator requires a broker and a store")
	}
	defer r.setState(StateStopped)

	channel := r.Channel()
	delay := r.initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.setState(StateDisconnected)

		sub, err := r.broker.Subscribe(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("subscribe failed", "channel", channel, "error", err, "retry_in", delay.String())
			if !sleep(ctx, delay) {
				return nil
			}
			delay = r.nextDelay(delay)
			continue
		}

		r.setState(StateSubscribed)
		r.logger.Info("subscribed", "channel", channel)
		delay = r.initialBackoff

		err = r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}

		r.setState(StateDisconnected)
		r.logger.Warn("subscription lost", "channel", channel, "error", err, "retry_in", delay.String())
		if !sleep(ctx, delay) {
			return nil
		}
		delay = r.nextDelay(delay)
	}
}

func (r *Replicator) consume(ctx context.Context, sub broker.Subscription) error {
	for {
		raw, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		r.setState(StateConsuming)
		// The envelope in hand is applied even if ctx is cancelled meanwhile.
		r.Handle(context.WithoutCancel(ctx), raw)
	}
}

func (r *Replicator) nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > r.maxBackoff {
		return r.maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Handle applies one raw envelope to the replica. Errors never escape; the
// outcome says what happened and is logged.
func (r *Replicator) Handle(ctx context.Context, raw []byte) Outcome {
	envelope, err := events.Decode(raw)
	if err != nil {
		r.logger.ErrorContext(ctx, "dropping undecodable envelope", "error", err)
		return Malformed
	}

	logger := r.logger.With("event_type", string(envelope.EventType), "model", envelope.Model)
	if envelope.Model != r.model {
		logger.WarnContext(ctx, "dropping envelope for another model")
		return Ignored
	}
	if !envelope.EventType.Valid() {
		logger.ErrorContext(ctx, "dropping envelope with unknown event type")
		return Malformed
	}

	fields, err := filterFields(envelope.EventType, envelope.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "dropping malformed payload", "error", err)
		return Malformed
	}
	if err := r.schema.validate(envelope.EventType, fields); err != nil {
		logger.ErrorContext(ctx, "payload failed schema validation", "error", err)
		return Malformed
	}

	id, _ := fields["id"].(string)
	logger = logger.With("user_id", id)

	outcome, err := r.apply(ctx, envelope.EventType, id, fields)
	switch outcome {
	case Failed:
		logger.ErrorContext(ctx, "failed to apply envelope", "error", err)
	case MissingTarget:
		logger.WarnContext(ctx, "update for unknown replica dropped")
	default:
		logger.InfoContext(ctx, "envelope handled", "outcome", outcome.String())
	}
	return outcome
}

func (r *Replicator) apply(ctx context.Context, eventType events.EventType, id string, fields map[string]any) (Outcome, error) {
	replicas := r.store.Repositories().Replicas
	now := r.now().UTC()

	switch eventType {
	case events.EventCreate:
		inserted, err := replicas.InsertReplicaIfAbsent(ctx, persistence.ReplicatedUser{
			ID:        id,
			Email:     stringField(fields, "email"),
			FirstName: stringField(fields, "first_name"),
			LastName:  stringField(fields, "last_name"),
			UpdatedAt: now,
		})
		if err != nil {
			return Failed, err
		}
		if !inserted {
			return Ignored, nil
		}
		return Applied, nil

	case events.EventUpdate:
		patch := persistence.ReplicatedUserPatch{
			Email:     optionalField(fields, "email"),
			FirstName: optionalField(fields, "first_name"),
			LastName:  optionalField(fields, "last_name"),
		}
		if err := replicas.PatchReplica(ctx, id, patch, now); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return MissingTarget, nil
			}
			return Failed, err
		}
		return Applied, nil

	case events.EventDelete:
		removed, err := replicas.DeleteReplica(ctx, id)
		if err != nil {
			return Failed, err
		}
		if !removed {
			return Ignored, nil
		}
		return Applied, nil
	}
	return Malformed, fmt.Errorf("unsupported event type %q", eventType)
}

// filterFields keeps the replica columns, turns numeric ids into strings and
// NFC-normalizes text. Deletes keep only the id.
func filterFields(eventType events.EventType, payload map[string]any) (map[string]any, error) {
	keys := replicaFields
	if eventType == events.EventDelete {
		keys = replicaFields[:1]
	}

	fields := make(map[string]any, len(keys))
	for _, key := range keys {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		if key == "id" {
			id, err := normalizeID(value)
			if err != nil {
				return nil, err
			}
			fields[key] = id
			continue
		}
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be text, got %T", key, value)
		}
		fields[key] = norm.NFC.String(text)
	}
	return fields, nil
}

func normalizeID(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return norm.NFC.String(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("id has unsupported type %T", value)
	}
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}

func optionalField(fields map[string]any, key string) *string {
	value, ok := fields[key].(string)
	if !ok {
		return nil
	}
	return &value
}
