package queue

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusSuccessful TaskStatus = "successful"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusStopped    TaskStatus = "stopped"
)

// Active reports whether the task still occupies its (order, action) slot.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusExecuting
}

// Priority is the task weight (0-100, higher is claimed first).
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within the allowed range (0-100).
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// DefaultMaxAttempts is used when CreateTask is called without WithMaxAttempts.
const DefaultMaxAttempts = 5

// RetryBackoff is the delay added per attempt when a task fails.
const RetryBackoff = 30 * time.Second

// Task is a durable unit of background work bound to an order.
// Periodic tasks use OrderID 0.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     int64      `json:"order_id"`
	Action      string     `json:"action"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TasksDlq is a task that exhausted its attempts, kept for manual inspection.
type TasksDlq struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	OrderID   int64     `json:"order_id"`
	Action    string    `json:"action"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NextRetryAt returns when a task that has failed attempts times should run again.
func NextRetryAt(now time.Time, attempts int) time.Time {
	return now.Add(time.Duration(attempts) * RetryBackoff)
}
