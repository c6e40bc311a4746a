package route53

import "time"

// Config holds Route 53 settings. Static credentials are optional; without
// them the default AWS credential chain is used.
type Config struct {
	Region          string        `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	TTL             int64         `env:"ROUTE53_TXT_TTL" envDefault:"60"`
	Timeout         time.Duration `env:"ROUTE53_TIMEOUT" envDefault:"15s"`

	// MaxValues caps the TXT set at one name; the oldest values go first.
	MaxValues int `env:"ROUTE53_TXT_MAX_VALUES" envDefault:"20"`
}
