package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when a distributed lock is already held by
// another party.
var ErrLockHeld = errors.New("lock already held")

// LockManager provides distributed locks so that concurrent engine
// replicas never execute against the same start token at once.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles an action identified by key under a sliding
// window limit.
type RateLimiter interface {
	// Allow reports whether one more action is permitted within the
	// window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// StreamAppender is the durable half of the event bus: implementations
// append payloads to an ordered, trimmed log.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
