package acmefront

import (
	"time"

	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/core/server"
	"github.com/dmitrymomot/acmefront/core/tracing"
	"github.com/dmitrymomot/acmefront/integration/ca/upstream"
	"github.com/dmitrymomot/acmefront/integration/database/pg"
	"github.com/dmitrymomot/acmefront/integration/database/redis"
	"github.com/dmitrymomot/acmefront/integration/dns/route53"
	"github.com/dmitrymomot/acmefront/integration/email/postmark"
	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/delegation"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the whole process configuration, loaded from the environment.
type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"acmefront"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage selects postgres+redis or the in-process memory backends.
	Storage       string        `env:"APP_STORAGE" envDefault:"postgres"`
	RedisPrefix   string        `env:"REDIS_KEY_PREFIX" envDefault:"acmefront:"`
	HealthTimeout time.Duration `env:"HEALTH_TIMEOUT" envDefault:"5s"`
	MailDir       string        `env:"DEV_MAIL_DIR" envDefault:"./tmp/mail"`

	// FakeCA registers the in-process CA under the name "fake".
	FakeCA bool `env:"CA_FAKE"`

	DB          pg.Config
	Redis       redis.Config
	Server      server.Config
	Queue       queue.Config
	Tracing     tracing.Config
	ACME        acme.Config
	Fulfillment fulfillment.Config
	Delegation  delegation.Config
	Upstream    upstream.Config
	Route53     route53.Config
	Postmark    postmark.Config
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}
