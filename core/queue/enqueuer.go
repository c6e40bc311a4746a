package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer creates and stops order tasks.
type Enqueuer struct {
	repo               EnqueuerRepository
	defaultPriority    Priority
	defaultMaxAttempts int
	now                func() time.Time
}

// NewEnqueuer creates a new Enqueuer with the given repository and options.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultPriority:    PriorityDefault,
		defaultMaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:               repo,
		defaultPriority:    options.defaultPriority,
		defaultMaxAttempts: options.defaultMaxAttempts,
		now:                time.Now,
	}, nil
}

// CreateTask schedules action for orderID. When an active task already exists
// for the pair the call is a no-op and returns nil.
// Inside a pg transaction carried by ctx the row is written through it.
func (e *Enqueuer) CreateTask(ctx context.Context, orderID int64, action string, opts ...EnqueueOption) error {
	if action == "" {
		return ErrInvalidAction
	}

	options := &enqueueOptions{
		priority:    e.defaultPriority,
		maxAttempts: e.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return ErrInvalidPriority
	}

	now := e.now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	task := &Task{
		ID:          uuid.New(),
		OrderID:     orderID,
		Action:      action,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		MaxAttempts: options.maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("failed to create task %q for order %d: %w", action, orderID, err)
	}

	return nil
}

// DeleteTasks stops pending tasks of the given actions for orderID and
// returns how many were stopped. A task that already started is not touched.
func (e *Enqueuer) DeleteTasks(ctx context.Context, orderID int64, actions ...string) (int64, error) {
	if len(actions) == 0 {
		return 0, nil
	}

	n, err := e.repo.StopTasks(ctx, orderID, actions)
	if err != nil {
		return 0, fmt.Errorf("failed to stop tasks %v for order %d: %w", actions, orderID, err)
	}
	return n, nil
}
