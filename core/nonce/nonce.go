// Package nonce issues single-use anti-replay tokens for ACME requests.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/acmefront/core/kvstore"
)

const (
	DefaultTTL = time.Hour
	keyPrefix  = "nonce:"
	size       = 16
)

// Manager issues and consumes nonces. Consumption is an atomic GETDEL, so of
// two concurrent requests carrying the same nonce at most one succeeds.
type Manager struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewManager returns a Manager. ttl <= 0 uses DefaultTTL.
func NewManager(store kvstore.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Generate returns a fresh base64url nonce persisted with the manager TTL.
func (m *Manager) Generate(ctx context.Context) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("nonce: read random: %w", err)
	}
	n := base64.RawURLEncoding.EncodeToString(b)

	ok, err := m.store.SetNX(ctx, keyPrefix+n, "1", m.ttl)
	if err != nil {
		return "", fmt.Errorf("nonce: store: %w", err)
	}
	if !ok {
		return "", errors.New("nonce: collision")
	}
	return n, nil
}

// Verify reports whether n was issued and not yet used, consuming it.
// Unknown, expired and reused values are false, as is any store error.
func (m *Manager) Verify(ctx context.Context, n string) bool {
	if n == "" {
		return false
	}
	_, err := m.store.GetDel(ctx, keyPrefix+n)
	return err == nil
}
