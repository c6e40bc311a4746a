package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("kvstore: key not found")
	ErrLocked   = errors.New("kvstore: lock is held")
)

// Store is the advisory key-value contract for nonces, locks and throttles.
// None of it is a source of durable truth.
type Store interface {
	// SetNX stores value under key only if the key is absent. ttl <= 0 means no expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (string, error)
	// GetDel atomically reads and removes key.
	GetDel(ctx context.Context, key string) (string, error)
	// CompareAndDelete removes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}
