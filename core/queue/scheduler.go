package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/acmefront/core/logger"
)

// Scheduler creates periodic tasks. Each run is an ordinary task with
// OrderID 0, so the one-active-task rule keeps runs from piling up.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel          context.CancelFunc
	running         atomic.Bool
	wg              sync.WaitGroup
	shutdownTimeout time.Duration

	tasksScheduled atomic.Int64
}

type scheduledTask struct {
	name        string
	schedule    Schedule
	priority    Priority
	maxAttempts int
	nextRunAt   time.Time
}

// NewScheduler creates a new periodic task scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval:   10 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          logger.NewNope(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:            repo,
		tasks:           make(map[string]*scheduledTask),
		interval:        options.checkInterval,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger.With(logger.Component("queue.scheduler")),
		now:             time.Now,
	}, nil
}

// AddTask registers a periodic task. The first run is due immediately.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if name == "" {
		return ErrInvalidAction
	}

	taskOpts := &schedulerTaskOptions{
		priority:    PriorityLow,
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[name] = &scheduledTask{
		name:        name,
		schedule:    schedule,
		priority:    taskOpts.priority,
		maxAttempts: taskOpts.maxAttempts,
	}

	s.logger.Info("registered periodic task",
		logger.Action(name),
		slog.String("schedule", schedule.String()))

	return nil
}

// TaskCount returns the number of registered periodic tasks.
func (s *Scheduler) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Start checks for due tasks every check interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return ErrSchedulerNotConfigured
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started", logger.Duration(s.interval))

	s.checkTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight check.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.shutdownTimeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, s.shutdownTimeout)
	}
}

// Run returns a function for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		_ = s.Stop()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

func (s *Scheduler) checkTasks(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.tasks {
		if now.Before(st.nextRunAt) {
			continue
		}

		task := &Task{
			ID:          uuid.New(),
			Action:      st.name,
			Status:      TaskStatusPending,
			Priority:    st.priority,
			MaxAttempts: st.maxAttempts,
			ScheduledAt: now,
			CreatedAt:   now,
		}

		err := s.repo.CreateTask(ctx, task)
		switch {
		case err == nil:
			s.tasksScheduled.Add(1)
			s.logger.DebugContext(ctx, "scheduled periodic task", logger.Action(st.name))
		case errors.Is(err, ErrDuplicateTask):
			s.logger.DebugContext(ctx, "periodic task still active, skipping", logger.Action(st.name))
		default:
			s.logger.ErrorContext(ctx, "failed to schedule periodic task", logger.Action(st.name), logger.Error(err))
			continue
		}

		st.nextRunAt = st.schedule.Next(now)
	}
}

// Healthcheck fails when the scheduler loop is not running.
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	if !s.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}
	return nil
}

// TasksScheduled returns how many periodic runs were created.
func (s *Scheduler) TasksScheduled() int64 {
	return s.tasksScheduled.Load()
}
