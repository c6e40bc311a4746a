package fulfillment

import (
	"context"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/queue"
)

// Task actions.
const (
	TaskCommit     = "commit"
	TaskSync       = "sync"
	TaskRevalidate = "revalidate"
	TaskCancel     = "cancel"
	TaskDCVWrite   = "dcv_write"
)

// TaskHandlers returns the queue handlers that drive the engine in the
// background.
func (e *Engine) TaskHandlers() []queue.Handler {
	return []queue.Handler{
		queue.NewTaskHandler(TaskCommit, e.handleCommit),
		queue.NewTaskHandler(TaskSync, e.handleSync),
		queue.NewTaskHandler(TaskRevalidate, e.ExecuteRevalidate),
		queue.NewTaskHandler(TaskCancel, e.ExecuteCancel),
		queue.NewTaskHandler(TaskDCVWrite, e.ProvisionDCV),
	}
}

func (e *Engine) handleCommit(ctx context.Context, orderID int64) error {
	_, err := e.Commit(ctx, orderID, "")
	if IsKind(err, KindState) {
		// Already submitted or cancelled in the meantime.
		e.logger.DebugContext(ctx, "commit skipped", logger.OrderID(orderID), logger.Error(err))
		return nil
	}
	return err
}

// handleSync polls until the cert leaves the in-flight states.
func (e *Engine) handleSync(ctx context.Context, orderID int64) error {
	c, err := e.Sync(ctx, orderID, true)
	if err != nil {
		return err
	}
	if c.Status.InFlight() {
		return queue.Reschedule(e.cfg.SyncInterval)
	}
	return nil
}
