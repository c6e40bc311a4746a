package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker is an advisory distributed mutex on top of a Store.
type Locker struct {
	store Store
	ttl   time.Duration
}

// NewLocker returns a Locker whose locks expire after ttl if never released.
func NewLocker(store Store, ttl time.Duration) *Locker {
	return &Locker{store: store, ttl: ttl}
}

// TryLock acquires key or returns ErrLocked. The returned func releases the
// lock only if this holder still owns it.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, "lock:"+key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		_, err := l.store.CompareAndDelete(ctx, "lock:"+key, token)
		return err
	}, nil
}
