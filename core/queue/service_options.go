package queue

import "log/slog"

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger        *slog.Logger
	workerOpts    []WorkerOption
	schedulerOpts []SchedulerOption
	enqueuerOpts  []EnqueuerOption
}

// WithServiceLogger is passed to the worker and scheduler too.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithWorkerOptions(opts ...WorkerOption) ServiceOption {
	return func(o *serviceOptions) { o.workerOpts = append(o.workerOpts, opts...) }
}

func WithSchedulerOptions(opts ...SchedulerOption) ServiceOption {
	return func(o *serviceOptions) { o.schedulerOpts = append(o.schedulerOpts, opts...) }
}

func WithEnqueuerOptions(opts ...EnqueuerOption) ServiceOption {
	return func(o *serviceOptions) { o.enqueuerOpts = append(o.enqueuerOpts, opts...) }
}
