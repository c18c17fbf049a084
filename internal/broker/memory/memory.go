// Package memory is an in-process broker with buffered per-subscriber
// queues. It can inject transport failures for tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/example/meeting-scheduler/internal/broker"
)

// ErrDisconnected is returned by Receive after Disconnect and by Subscribe
// after FailNextSubscribe.
var ErrDisconnected = errors.New("memory broker: disconnected")

const defaultBuffer = 256

// Broker fans each published message out to every live subscription of the
// channel. Publishing to a channel without subscribers drops the message.
type Broker struct {
	mu            sync.Mutex
	subscribers   map[string]map[*subscription]struct{}
	buffer        int
	failSubscribe int
	closed        bool
}

var _ broker.Broker = (*Broker)(nil)

// New creates a broker whose subscriptions buffer up to buffer messages.
func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{subscribers: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

// Publish delivers message to the current subscribers of channel. A full
// subscriber queue blocks until space frees up or ctx is done.
func (b *Broker) Publish(ctx context.Context, channel string, message []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	targets := make([]*subscription, 0, len(b.subscribers[channel]))
	for sub := range b.subscribers[channel] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		body := append([]byte(nil), message...)
		select {
		case sub.messages <- body:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe opens a subscription on channel.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, broker.ErrClosed
	}
	if b.failSubscribe > 0 {
		b.failSubscribe--
		return nil, ErrDisconnected
	}

	sub := &subscription{
		broker:   b,
		channel:  channel,
		messages: make(chan []byte, b.buffer),
		done:     make(chan struct{}),
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[*subscription]struct{})
	}
	b.subscribers[channel][sub] = struct{}{}
	return sub, nil
}

// FailNextSubscribe makes the next n Subscribe calls fail.
func (b *Broker) FailNextSubscribe(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSubscribe += n
}

// Disconnect breaks every subscription of channel. Pending messages are
// lost and Receive returns ErrDisconnected.
func (b *Broker) Disconnect(channel string) {
	b.mu.Lock()
	subs := b.subscribers[channel]
	delete(b.subscribers, channel)
	b.mu.Unlock()

	for sub := range subs {
		sub.fail(ErrDisconnected)
	}
}

// Subscribers reports the number of live subscriptions on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[channel])
}

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subscribers
	b.subscribers = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, subs := range all {
		for sub := range subs {
			sub.fail(broker.ErrClosed)
		}
	}
	return nil
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, sub.channel)
		}
	}
}

type subscription struct {
	broker   *Broker
	channel  string
	messages chan []byte
	done     chan struct{}

	once sync.Once
	err  error
}

func (s *subscription) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	// Drain what was delivered before a close, unless the link was broken.
	select {
	case <-s.done:
		if !errors.Is(s.err, ErrDisconnected) {
			select {
			case message := <-s.messages:
				return message, nil
			default:
			}
		}
		return nil, s.err
	default:
	}

	select {
	case message := <-s.messages:
		return message, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.broker.remove(s)
	s.fail(broker.ErrClosed)
	return nil
}
