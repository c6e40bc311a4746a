package queue

import "time"

// Config holds the worker, scheduler and enqueuer settings.
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"2s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`

	CheckInterval time.Duration `env:"QUEUE_CHECK_INTERVAL" envDefault:"10s"`

	DefaultPriority    Priority `env:"QUEUE_DEFAULT_PRIORITY" envDefault:"50"`
	DefaultMaxAttempts int      `env:"QUEUE_DEFAULT_MAX_ATTEMPTS" envDefault:"5"`
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PollInterval:       2 * time.Second,
		LockTimeout:        5 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		MaxConcurrentTasks: 10,
		CheckInterval:      10 * time.Second,
		DefaultPriority:    PriorityDefault,
		DefaultMaxAttempts: DefaultMaxAttempts,
	}
}
