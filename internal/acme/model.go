package acme

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// AccountStatus is the RFC 8555 account status.
type AccountStatus string

const (
	AccountValid       AccountStatus = "valid"
	AccountDeactivated AccountStatus = "deactivated"
	AccountRevoked     AccountStatus = "revoked"
)

// Account is an ACME account. KeyID is the RFC 7638 thumbprint of Key.
type Account struct {
	KeyID     string
	Key       *jose.JSONWebKey
	Status    AccountStatus
	Contact   []string
	OrderID   int64
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Authorization ties one identifier of an ACME order to its cert. Its
// status is derived from the cert on every read.
type Authorization struct {
	Token          string
	CertID         int64
	Identifier     string
	Wildcard       bool
	ChallengeToken string
	ChallengeType  string
	CreatedAt      time.Time
}

// Repository persists accounts and authorizations. Lookups return
// ErrNotFound when nothing matches.
type Repository interface {
	// CreateAccount returns ErrAccountExists when KeyID is taken.
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, keyID string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error

	CreateAuthorizations(ctx context.Context, authzs []Authorization) error
	GetAuthorization(ctx context.Context, token string) (*Authorization, error)
	ListAuthorizations(ctx context.Context, certID int64) ([]Authorization, error)
}
