package queue

import "time"

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultPriority    Priority
	defaultMaxAttempts int
}

func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n > 0 {
			o.defaultMaxAttempts = n
		}
	}
}

// EnqueueOption configures a single CreateTask call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	maxAttempts int
	delay       time.Duration
	scheduledAt *time.Time
}

// WithPriority sets the task weight. Invalid values make CreateTask fail.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithDelay postpones the first run by d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithScheduledAt sets an absolute run time; it wins over WithDelay.
func WithScheduledAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		if !t.IsZero() {
			o.scheduledAt = &t
		}
	}
}
