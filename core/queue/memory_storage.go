package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage in process memory for tests and local runs.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   map[uuid.UUID]*TasksDlq
	now   func() time.Time
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		dlq:   make(map[uuid.UUID]*TasksDlq),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// CreateTask stores a copy of task unless an active one exists for its pair.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range ms.tasks {
		if t.OrderID == task.OrderID && t.Action == task.Action && t.Status.Active() {
			return ErrDuplicateTask
		}
	}

	taskCopy := *task
	ms.tasks[task.ID] = &taskCopy
	return nil
}

// StopTasks marks matching pending tasks as stopped.
func (ms *MemoryStorage) StopTasks(_ context.Context, orderID int64, actions []string) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	now := ms.now()
	for _, t := range ms.tasks {
		if t.OrderID == orderID && t.Status == TaskStatusPending && slices.Contains(actions, t.Action) {
			t.Status = TaskStatusStopped
			t.ProcessedAt = &now
			n++
		}
	}
	return n, nil
}

// ClaimTask picks the due task with the highest priority, oldest schedule first.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, t := range ms.tasks {
		claimable := t.Status == TaskStatusPending && !t.ScheduledAt.After(now)
		expired := t.Status == TaskStatusExecuting && t.LockedUntil != nil && t.LockedUntil.Before(now)
		if !claimable && !expired {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledAt.Before(best.ScheduledAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockedUntil := now.Add(lockDuration)
	best.Status = TaskStatusExecuting
	best.LockedUntil = &lockedUntil
	best.LockedBy = &workerID

	claimed := *best
	return &claimed, nil
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := ms.now()
	t.Status = TaskStatusSuccessful
	t.ProcessedAt = &now
	t.LockedUntil = nil
	t.LockedBy = nil
	return nil
}

func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := ms.now()
	t.Attempts++
	t.Error = &errorMsg
	t.LockedUntil = nil
	t.LockedBy = nil
	if t.Attempts < t.MaxAttempts {
		t.Status = TaskStatusPending
		t.ScheduledAt = NextRetryAt(now, t.Attempts)
		return nil
	}
	t.Status = TaskStatusFailed
	t.ProcessedAt = &now
	return nil
}

func (ms *MemoryStorage) RescheduleTask(_ context.Context, taskID uuid.UUID, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = TaskStatusPending
	t.ScheduledAt = at
	t.LockedUntil = nil
	t.LockedBy = nil
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := ms.now()
	errMsg := ""
	if t.Error != nil {
		errMsg = *t.Error
	}
	t.Status = TaskStatusFailed
	ms.dlq[t.ID] = &TasksDlq{
		ID:        uuid.New(),
		TaskID:    t.ID,
		OrderID:   t.OrderID,
		Action:    t.Action,
		Error:     errMsg,
		Attempts:  t.Attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	return nil
}

func (ms *MemoryStorage) ExtendLock(_ context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok || t.Status != TaskStatusExecuting {
		return ErrTaskNotFound
	}
	lockedUntil := ms.now().Add(duration)
	t.LockedUntil = &lockedUntil
	return nil
}

// Tasks returns copies of the tasks for orderID, oldest first.
func (ms *MemoryStorage) Tasks(orderID int64) []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Task
	for _, t := range ms.tasks {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// ActiveTask returns the active task for the pair, if any.
func (ms *MemoryStorage) ActiveTask(orderID int64, action string) (Task, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range ms.tasks {
		if t.OrderID == orderID && t.Action == action && t.Status.Active() {
			return *t, true
		}
	}
	return Task{}, false
}

// DLQ returns copies of the dead-lettered tasks.
func (ms *MemoryStorage) DLQ() []TasksDlq {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]TasksDlq, 0, len(ms.dlq))
	for _, d := range ms.dlq {
		out = append(out, *d)
	}
	return out
}
