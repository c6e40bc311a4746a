package fulfillment

import "time"

// Config holds engine timing and policy settings.
type Config struct {
	DefaultVendor   string        `env:"FULFILLMENT_DEFAULT_VENDOR" envDefault:"upstream"`
	SyncThrottle    time.Duration `env:"FULFILLMENT_SYNC_THROTTLE" envDefault:"10s"`
	SyncInterval    time.Duration `env:"FULFILLMENT_SYNC_INTERVAL" envDefault:"1m"`
	CancelDelay     time.Duration `env:"FULFILLMENT_CANCEL_DELAY" envDefault:"10m"`
	RevalidateDelay time.Duration `env:"FULFILLMENT_REVALIDATE_DELAY" envDefault:"30s"`
	GuardTTL        time.Duration `env:"FULFILLMENT_GUARD_TTL" envDefault:"10s"`
	CatalogPath     string        `env:"FULFILLMENT_CATALOG_PATH"`
	NotifyChannels  []string      `env:"FULFILLMENT_NOTIFY_CHANNELS" envDefault:"log,email" envSeparator:","`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		DefaultVendor:   "upstream",
		SyncThrottle:    10 * time.Second,
		SyncInterval:    time.Minute,
		CancelDelay:     10 * time.Minute,
		RevalidateDelay: 30 * time.Second,
		GuardTTL:        10 * time.Second,
		NotifyChannels:  []string{"log", "email"},
	}
}
