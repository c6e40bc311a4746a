package acme

import "time"

// Config holds the ACME server settings.
type Config struct {
	// BaseURL is the externally visible URL the directory lives under,
	// e.g. https://acme.example.com/acme. Signed requests must carry URLs
	// built from it.
	BaseURL       string        `env:"ACME_BASE_URL" envDefault:"http://localhost:8080/acme"`
	NonceTTL      time.Duration `env:"ACME_NONCE_TTL" envDefault:"1h"`
	TOSURL        string        `env:"ACME_TOS_URL"`
	MaxBodyBytes  int64         `env:"ACME_MAX_BODY_BYTES" envDefault:"65536"`
	OrderLifetime time.Duration `env:"ACME_ORDER_LIFETIME" envDefault:"168h"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8080/acme",
		NonceTTL:      time.Hour,
		MaxBodyBytes:  64 << 10,
		OrderLifetime: 7 * 24 * time.Hour,
	}
}
