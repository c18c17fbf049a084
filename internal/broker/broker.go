// Package broker defines the publish/subscribe contract used to carry
// replication envelopes between services. Delivery is at least once; message
// bodies are opaque.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker or subscription.
var ErrClosed = errors.New("broker: closed")

// Broker publishes messages to named channels and opens subscriptions.
type Broker interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a stream of messages from one channel.
type Subscription interface {
	// Receive blocks until a message arrives, the context is done or the
	// transport fails. A transport failure ends the subscription; callers
	// resubscribe.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
