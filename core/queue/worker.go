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

// Worker claims due tasks and runs the handler registered for their action.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	observer        func(action string, result string, d time.Duration)

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool

	tasksProcessed atomic.Int64
	tasksFailed    atomic.Int64
	activeTasks    atomic.Int32
}

// WorkerStats is a point-in-time snapshot for health checks and metrics.
type WorkerStats struct {
	TasksProcessed int64
	TasksFailed    int64
	ActiveTasks    int32
	IsRunning      bool
}

// NewWorker creates a new task worker.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		pullInterval:       2 * time.Second,
		lockTimeout:        5 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             logger.NewNope(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:            repo,
		handlers:        make(map[string]Handler),
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger.With(logger.Component("queue.worker")),
		observer:        options.observer,
	}, nil
}

// NewWorkerFromConfig creates a Worker from configuration; opts override it.
func NewWorkerFromConfig(cfg Config, repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
	}, opts...)

	return NewWorker(repo, allOpts...)
}

// RegisterHandlers registers handlers by action name. A later handler for
// the same action replaces the earlier one.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start processes tasks until ctx is cancelled. Use Run for errgroup.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerAlreadyStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	w.logger.InfoContext(w.ctx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Int("max_concurrent", cap(w.sem)))

	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.InfoContext(context.Background(), "worker stopping")
			return w.ctx.Err()
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Stop must not start waiting before this goroutine is counted.
				w.mu.RLock()
				if w.cancel == nil {
					w.mu.RUnlock()
					<-w.sem
					return nil
				}
				w.wg.Add(1)
				w.mu.RUnlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if err := w.pullAndProcess(); err != nil && !errors.Is(err, ErrHandlerNotFound) {
						w.logger.ErrorContext(w.ctx, "failed to process task",
							slog.String("worker_id", w.workerID.String()),
							logger.Error(err))
					}
				}()
			default:
				w.logger.DebugContext(w.ctx, "all worker slots busy, skipping tick")
			}
		}
	}
}

// Stop waits for in-flight tasks up to the shutdown timeout.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	w.stopping.Store(true)
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(ctx, "worker stopped cleanly", slog.String("worker_id", w.workerID.String()))
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(context.Background(), "worker shutdown timeout exceeded, tasks may be abandoned",
			slog.String("worker_id", w.workerID.String()),
			logger.Duration(w.shutdownTimeout))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, w.shutdownTimeout)
	}
}

// Run returns a function for errgroup that starts the worker and stops it
// gracefully when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return nil
	}

	w.logger.DebugContext(w.ctx, "claimed task",
		logger.TaskID(task.ID.String()),
		logger.OrderID(task.OrderID),
		logger.Action(task.Action))

	return w.processTask(task)
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()

	w.activeTasks.Add(1)
	defer w.activeTasks.Add(-1)

	// A panicking handler counts as a failed attempt.
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.ErrorContext(w.ctx, "handler panicked",
				logger.TaskID(task.ID.String()),
				logger.Action(task.Action),
				slog.Any("panic", r))
			_ = w.handleTaskFailure(task, retErr, time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.Action]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(task)
	}

	// Running tasks get their full lease even while the worker shuts down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.lockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, *task); err != nil {
		var re *RescheduleError
		if errors.As(err, &re) {
			return w.handleReschedule(task, re.After, time.Since(start))
		}
		return w.handleTaskFailure(task, err, time.Since(start))
	}

	return w.handleTaskSuccess(task, time.Since(start))
}

// handleMissingHandler sends the task straight to the DLQ: retrying cannot help.
func (w *Worker) handleMissingHandler(task *Task) error {
	w.tasksFailed.Add(1)
	w.observe(task.Action, "no_handler", 0)

	w.logger.ErrorContext(w.ctx, "no handler registered for action",
		logger.TaskID(task.ID.String()),
		logger.Action(task.Action))

	if err := w.repo.FailTask(w.ctx, task.ID, "no handler registered for action: "+task.Action); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}

	return ErrHandlerNotFound
}

// handleTaskFailure records the attempt. The repository reschedules the task
// while attempts remain; the last failure moves it to the DLQ.
func (w *Worker) handleTaskFailure(task *Task, execErr error, duration time.Duration) error {
	w.tasksFailed.Add(1)
	w.observe(task.Action, "failed", duration)

	attempts := task.Attempts + 1
	w.logger.ErrorContext(w.ctx, "task failed",
		logger.TaskID(task.ID.String()),
		logger.OrderID(task.OrderID),
		logger.Action(task.Action),
		logger.RetryCount(attempts),
		slog.Int("max_attempts", task.MaxAttempts),
		logger.Duration(duration),
		logger.Error(execErr))

	if err := w.repo.FailTask(w.ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if attempts >= task.MaxAttempts {
		if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max attempts: %w", task.ID, err)
		}
		w.logger.WarnContext(w.ctx, "task moved to dead letter queue",
			logger.TaskID(task.ID.String()),
			logger.OrderID(task.OrderID),
			logger.Action(task.Action))
	}

	return nil
}

func (w *Worker) handleReschedule(task *Task, after time.Duration, duration time.Duration) error {
	if err := w.repo.RescheduleTask(w.ctx, task.ID, time.Now().Add(after)); err != nil {
		return fmt.Errorf("failed to reschedule task %s: %w", task.ID, err)
	}

	w.tasksProcessed.Add(1)
	w.observe(task.Action, "rescheduled", duration)

	w.logger.DebugContext(w.ctx, "task rescheduled",
		logger.TaskID(task.ID.String()),
		logger.OrderID(task.OrderID),
		logger.Action(task.Action),
		logger.Duration(after))

	return nil
}

func (w *Worker) handleTaskSuccess(task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(w.ctx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as successful: %w", task.ID, err)
	}

	w.tasksProcessed.Add(1)
	w.observe(task.Action, "successful", duration)

	w.logger.InfoContext(w.ctx, "task completed",
		logger.TaskID(task.ID.String()),
		logger.OrderID(task.OrderID),
		logger.Action(task.Action),
		logger.Duration(duration))

	return nil
}

func (w *Worker) observe(action, result string, d time.Duration) {
	if w.observer != nil {
		w.observer(action, result, d)
	}
}

// ExtendLockForTask extends the lease of a long-running task.
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// HandlerCount returns the number of registered handlers.
func (w *Worker) HandlerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers)
}

// Stats returns current worker statistics.
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	isRunning := w.cancel != nil
	w.mu.RUnlock()

	return WorkerStats{
		TasksProcessed: w.tasksProcessed.Load(),
		TasksFailed:    w.tasksFailed.Load(),
		ActiveTasks:    w.activeTasks.Load(),
		IsRunning:      isRunning,
	}
}

// Healthcheck fails when the worker is stopped or every slot is busy.
//
//	if errors.Is(err, queue.ErrWorkerOverloaded) { ... }
func (w *Worker) Healthcheck(ctx context.Context) error {
	stats := w.Stats()

	if !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}

	maxConcurrent := int32(cap(w.sem))
	if stats.ActiveTasks >= maxConcurrent {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerOverloaded,
			fmt.Errorf("%d/%d slots busy", stats.ActiveTasks, maxConcurrent))
	}

	return nil
}
