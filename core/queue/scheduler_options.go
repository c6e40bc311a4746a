package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// WithCheckInterval sets how often due tasks are checked.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

func WithSchedulerShutdownTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SchedulerTaskOption configures one periodic task.
type SchedulerTaskOption func(*schedulerTaskOptions)

type schedulerTaskOptions struct {
	priority    Priority
	maxAttempts int
}

func WithTaskPriority(priority Priority) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if priority.Valid() {
			o.priority = priority
		}
	}
}

// WithTaskMaxAttempts is capped at 10.
func WithTaskMaxAttempts(n int) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if n > 0 && n <= 10 {
			o.maxAttempts = n
		}
	}
}
