package queue

import (
	"context"
	"fmt"
	"time"
)

type (
	// Handler processes tasks of one action.
	Handler interface {
		// Name returns the action this handler serves.
		Name() string
		Handle(ctx context.Context, task Task) error
	}

	// TaskHandlerFunc handles an order-bound task.
	TaskHandlerFunc func(ctx context.Context, orderID int64) error

	// PeriodicTaskHandlerFunc handles a scheduler-created task with no order.
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// NewTaskHandler binds fn to action.
func NewTaskHandler(action string, fn TaskHandlerFunc) Handler {
	return &orderTaskHandler{name: action, fn: fn}
}

// NewPeriodicTaskHandler binds fn to a scheduled task name.
func NewPeriodicTaskHandler(name string, fn PeriodicTaskHandlerFunc) Handler {
	return &periodicTaskHandler{name: name, fn: fn}
}

type orderTaskHandler struct {
	name string
	fn   TaskHandlerFunc
}

func (h *orderTaskHandler) Name() string { return h.name }

func (h *orderTaskHandler) Handle(ctx context.Context, task Task) error {
	return h.fn(ctx, task.OrderID)
}

type periodicTaskHandler struct {
	name string
	fn   PeriodicTaskHandlerFunc
}

func (h *periodicTaskHandler) Name() string { return h.name }

func (h *periodicTaskHandler) Handle(ctx context.Context, _ Task) error {
	return h.fn(ctx)
}

// RescheduleError asks the worker to run the task again after After without
// counting a failed attempt. Pollers use it to keep their slot.
type RescheduleError struct {
	After time.Duration
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("reschedule in %s", e.After)
}

// Reschedule returns a *RescheduleError.
func Reschedule(after time.Duration) error {
	return &RescheduleError{After: after}
}
