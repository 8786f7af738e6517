package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus publishes settlement events to a durable stream.
type EventBus interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
