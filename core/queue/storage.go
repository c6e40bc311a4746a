package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository creates and stops tasks.
type EnqueuerRepository interface {
	// CreateTask stores a task. It returns ErrDuplicateTask when an active
	// task already exists for the same (OrderID, Action).
	CreateTask(ctx context.Context, task *Task) error

	// StopTasks marks pending tasks of the given actions as stopped and
	// returns how many were stopped. Executing tasks are left alone.
	StopTasks(ctx context.Context, orderID int64, actions []string) (int64, error)
}

// WorkerRepository claims and settles tasks.
type WorkerRepository interface {
	// ClaimTask atomically claims the next due task, or returns ErrNoTaskToClaim.
	// Executing tasks whose lease expired are claimable again.
	ClaimTask(ctx context.Context, workerID uuid.UUID, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records the error and reschedules the task with linear backoff
	// while attempts remain; otherwise it marks it failed.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error

	// RescheduleTask puts an executing task back to pending at the given time.
	RescheduleTask(ctx context.Context, taskID uuid.UUID, at time.Time) error

	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// SchedulerRepository is what the scheduler needs to create periodic tasks.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Storage combines every repository so one backend can serve the whole service.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	SchedulerRepository
}
