package delegation

import (
	"slices"
	"time"
)

// Config holds delegation settings.
type Config struct {
	// BaseZone is the zone that holds delegation targets.
	BaseZone string `env:"DELEGATION_BASE_ZONE" envDefault:"dcv.acmefront.local"`
	// HostedZoneID is the provider's identifier for BaseZone.
	HostedZoneID  string   `env:"DELEGATION_HOSTED_ZONE_ID"`
	ExactPrefixes []string `env:"DELEGATION_EXACT_PREFIXES" envDefault:"_acme-challenge" envSeparator:","`
	DefaultPrefix string   `env:"DELEGATION_DEFAULT_PREFIX" envDefault:"_acme-challenge"`

	Resolver       string        `env:"DELEGATION_RESOLVER" envDefault:"1.1.1.1:53"`
	ResolveTimeout time.Duration `env:"DELEGATION_RESOLVE_TIMEOUT" envDefault:"5s"`
	SweepInterval  time.Duration `env:"DELEGATION_SWEEP_INTERVAL" envDefault:"1h"`
	MinAge         time.Duration `env:"DELEGATION_MIN_AGE" envDefault:"168h"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		BaseZone:       "dcv.acmefront.local",
		ExactPrefixes:  []string{"_acme-challenge"},
		DefaultPrefix:  "_acme-challenge",
		Resolver:       "1.1.1.1:53",
		ResolveTimeout: 5 * time.Second,
		SweepInterval:  time.Hour,
		MinAge:         7 * 24 * time.Hour,
	}
}

func (c Config) exactOnly(prefix string) bool {
	return slices.Contains(c.ExactPrefixes, prefix)
}
