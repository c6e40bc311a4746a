// Package config loads environment configuration into structs.
//
// A .env file (or the file named by ENV_FILE) is loaded once on first use;
// values already present in the process environment take precedence. Fields
// are parsed with caarlos0/env tags and each struct type is cached after its
// first successful load:
//
//	type Config struct {
//		BaseURL  string        `env:"ACME_BASE_URL,required"`
//		NonceTTL time.Duration `env:"ACME_NONCE_TTL" envDefault:"1h"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
