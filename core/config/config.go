package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNilTarget is returned when Load receives a nil pointer.
var ErrNilTarget = errors.New("config: target must be a non-nil pointer to struct")

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type -> any (struct value)
	loadMu     sync.Mutex
)

// Load parses environment variables into cfg. The first successful load of a
// type is cached; later calls for the same type copy the cached value.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilTarget
	}

	dotenvOnce.Do(loadDotenv)

	typ := reflect.TypeOf(cfg).Elem()
	if v, ok := cache.Load(typ); ok {
		*cfg = v.(T)
		return nil
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	if v, ok := cache.Load(typ); ok {
		*cfg = v.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", typ, err)
	}

	cache.Store(typ, parsed)
	*cfg = parsed
	return nil
}

// MustLoad is like Load but panics on failure. Intended for process startup.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Reset drops every cached configuration. Tests use it after changing env vars.
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	cache.Range(func(k, _ any) bool {
		cache.Delete(k)
		return true
	})
}

func loadDotenv() {
	file := os.Getenv("ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if _, err := os.Stat(file); err != nil {
		return
	}
	// Existing process env wins over the file.
	_ = godotenv.Load(file)
}
