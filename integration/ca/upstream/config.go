package upstream

import "time"

// Config holds upstream ACME CA settings.
type Config struct {
	Name           string        `env:"UPSTREAM_NAME" envDefault:"upstream"`
	DirectoryURL   string        `env:"UPSTREAM_DIRECTORY_URL" envDefault:"https://acme-staging-v02.api.letsencrypt.org/directory"`
	AccountKeyPath string        `env:"UPSTREAM_ACCOUNT_KEY_PATH"`
	Email          string        `env:"UPSTREAM_EMAIL"`
	EABKeyID       string        `env:"UPSTREAM_EAB_KID"`
	EABHMAC        string        `env:"UPSTREAM_EAB_HMAC"`
	Timeout        time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	UserAgent      string        `env:"UPSTREAM_USER_AGENT" envDefault:"acmefront"`
}

// Enabled reports whether a directory URL is configured.
func (c Config) Enabled() bool {
	return c.DirectoryURL != ""
}
