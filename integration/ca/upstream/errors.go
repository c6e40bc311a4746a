package upstream

import "errors"

var (
	ErrNotConfigured   = errors.New("upstream ca is not configured")
	ErrLoadAccountKey  = errors.New("failed to load upstream account key")
	ErrRegisterAccount = errors.New("failed to register upstream account")
	ErrNoChallenge     = errors.New("authorization offers no matching challenge")
)
