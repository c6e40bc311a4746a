package queue

import (
	"log/slog"
	"time"
)

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pullInterval       time.Duration
	lockTimeout        time.Duration
	shutdownTimeout    time.Duration
	maxConcurrentTasks int
	logger             *slog.Logger
	observer           func(action, result string, d time.Duration)
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithLockTimeout sets the lease length; it also bounds handler execution.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver receives one call per finished task, e.g. for metrics.
// result is "successful", "rescheduled", "failed" or "no_handler".
func WithObserver(fn func(action, result string, d time.Duration)) WorkerOption {
	return func(o *workerOptions) {
		o.observer = fn
	}
}
