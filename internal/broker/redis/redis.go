// Package redis carries broker messages over Redis PUB/SUB.
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/meeting-scheduler/internal/broker"
)

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Broker publishes and subscribes through a go-redis client.
type Broker struct {
	client *goredis.Client
}

var _ broker.Broker = (*Broker)(nil)

// New wraps an existing client.
func New(client *goredis.Client) *Broker {
	return &Broker{client: client}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*Broker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return New(client), nil
}

// Publish sends message to channel. Redis drops it when nobody listens.
func (b *Broker) Publish(ctx context.Context, channel string, message []byte) error {
	if err := b.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once the server has confirmed the subscription.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	return &subscription{pubsub: pubsub, messages: pubsub.Channel(), closed: make(chan struct{})}, nil
}

// Close closes the client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type subscription struct {
	pubsub   *goredis.PubSub
	messages <-chan *goredis.Message
	closed   chan struct{}
	once     sync.Once
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-s.messages:
		if !ok {
			return nil, broker.ErrClosed
		}
		return []byte(msg.Payload), nil
	case <-s.closed:
		return nil, broker.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.pubsub.Close()
	})
	return err
}
