// Package relay forwards scene broadcasts between gateway instances that
// share a message bus, so renderers attached to any instance receive them.
package relay

import (
	"context"
	"errors"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus closed")

// Bus is the publish/subscribe transport between instances.
// Implementations must be safe for concurrent use.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(data []byte)) (Subscription, error)
	Close() error
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}
