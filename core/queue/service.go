package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/acmefront/core/logger"
)

// Service wires a Worker, Scheduler and Enqueuer over one Storage.
type Service struct {
	worker    *Worker
	scheduler *Scheduler
	enqueuer  *Enqueuer
	storage   Storage
	logger    *slog.Logger
}

// NewService creates the three components over storage.
//
//	svc, err := queue.NewServiceFromConfig(cfg.Queue, store, queue.WithServiceLogger(log))
//	svc.RegisterHandlers(queue.NewTaskHandler("sync", engine.HandleSync))
//	svc.Scheduler().AddTask("delegation.sweep", queue.Every(time.Hour))
//	g.Go(svc.Run(ctx))
func NewService(storage Storage, opts ...ServiceOption) (*Service, error) {
	if storage == nil {
		return nil, ErrRepositoryNil
	}

	o := &serviceOptions{logger: logger.NewNope()}
	for _, opt := range opts {
		opt(o)
	}

	enqueuer, err := NewEnqueuer(storage, o.enqueuerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create enqueuer: %w", err)
	}

	worker, err := NewWorker(storage, append([]WorkerOption{WithWorkerLogger(o.logger)}, o.workerOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	scheduler, err := NewScheduler(storage, append([]SchedulerOption{WithSchedulerLogger(o.logger)}, o.schedulerOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Service{
		worker:    worker,
		scheduler: scheduler,
		enqueuer:  enqueuer,
		storage:   storage,
		logger:    o.logger,
	}, nil
}

// NewServiceFromConfig applies cfg to every component; opts override it.
func NewServiceFromConfig(cfg Config, storage Storage, opts ...ServiceOption) (*Service, error) {
	return NewService(storage, append([]ServiceOption{
		WithWorkerOptions(
			WithPullInterval(cfg.PollInterval),
			WithLockTimeout(cfg.LockTimeout),
			WithShutdownTimeout(cfg.ShutdownTimeout),
			WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		),
		WithSchedulerOptions(
			WithCheckInterval(cfg.CheckInterval),
			WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
		),
		WithEnqueuerOptions(
			WithDefaultPriority(cfg.DefaultPriority),
			WithDefaultMaxAttempts(cfg.DefaultMaxAttempts),
		),
	}, opts...)...)
}

// RegisterHandlers registers task handlers on the worker.
func (s *Service) RegisterHandlers(handlers ...Handler) {
	s.worker.RegisterHandlers(handlers...)
}

// Run returns a function for errgroup running the worker and, when it has
// tasks, the scheduler.
func (s *Service) Run(ctx context.Context) func() error {
	return func() error {
		if s.worker.HandlerCount() == 0 {
			return ErrNoHandlers
		}

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(s.worker.Run(ctx))

		if s.scheduler.TaskCount() > 0 {
			eg.Go(s.scheduler.Run(ctx))
		} else {
			s.logger.InfoContext(ctx, "no periodic tasks registered, scheduler will not start")
		}

		return eg.Wait()
	}
}

// Healthcheck joins worker and scheduler health.
func (s *Service) Healthcheck(ctx context.Context) error {
	err := s.worker.Healthcheck(ctx)
	if s.scheduler.TaskCount() > 0 {
		err = errors.Join(err, s.scheduler.Healthcheck(ctx))
	}
	return err
}

func (s *Service) Worker() *Worker       { return s.worker }
func (s *Service) Scheduler() *Scheduler { return s.scheduler }
func (s *Service) Enqueuer() *Enqueuer   { return s.enqueuer }
func (s *Service) Storage() Storage      { return s.storage }
