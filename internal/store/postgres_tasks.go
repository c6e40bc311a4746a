package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/integration/database/pg"
)

const taskColumns = `id, order_id, action, status, priority, attempts, max_attempts, scheduled_at,
	locked_until, locked_by, processed_at, error, created_at`

func scanTask(row pgx.Row) (*queue.Task, error) {
	var t queue.Task
	err := row.Scan(&t.ID, &t.OrderID, &t.Action, &t.Status, &t.Priority, &t.Attempts, &t.MaxAttempts,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts task. The partial unique index on active
// (order_id, action) pairs turns a second insert into ErrDuplicateTask.
func (p *Postgres) CreateTask(ctx context.Context, task *queue.Task) error {
	tag, err := p.conn(ctx).Exec(ctx,
		`INSERT INTO tasks (id, order_id, action, status, priority, attempts, max_attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		task.ID, task.OrderID, task.Action, task.Status, task.Priority, task.Attempts, task.MaxAttempts,
		task.ScheduledAt, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrDuplicateTask
	}
	return nil
}

func (p *Postgres) StopTasks(ctx context.Context, orderID int64, actions []string) (int64, error) {
	tag, err := p.conn(ctx).Exec(ctx,
		`UPDATE tasks SET status = $3, processed_at = $4
		WHERE order_id = $1 AND action = ANY($2) AND status = $5`,
		orderID, actions, queue.TaskStatusStopped, time.Now(), queue.TaskStatusPending)
	if err != nil {
		return 0, fmt.Errorf("stop tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimTask locks the next due task with SKIP LOCKED so concurrent workers
// never claim the same row. Executing tasks with an expired lease are due.
func (p *Postgres) ClaimTask(ctx context.Context, workerID uuid.UUID, lockDuration time.Duration) (*queue.Task, error) {
	now := time.Now()
	t, err := scanTask(p.conn(ctx).QueryRow(ctx,
		`UPDATE tasks SET status = $4, locked_until = $2, locked_by = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE (status = $5 AND scheduled_at <= $3)
			   OR (status = $4 AND locked_until < $3)
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		workerID, now.Add(lockDuration), now, queue.TaskStatusExecuting, queue.TaskStatusPending))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (p *Postgres) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return p.settle(ctx,
		`UPDATE tasks SET status = $2, processed_at = $3, locked_until = NULL, locked_by = NULL WHERE id = $1`,
		taskID, queue.TaskStatusSuccessful, time.Now())
}

// FailTask retries with linear backoff until max_attempts is reached.
func (p *Postgres) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return p.settle(ctx,
		`UPDATE tasks SET
			attempts = attempts + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN attempts + 1 < max_attempts THEN $4 ELSE $5 END,
			scheduled_at = CASE WHEN attempts + 1 < max_attempts
				THEN $3::timestamptz + (attempts + 1) * $6::interval
				ELSE scheduled_at END,
			processed_at = CASE WHEN attempts + 1 < max_attempts THEN NULL ELSE $3::timestamptz END
		WHERE id = $1`,
		taskID, errorMsg, time.Now(), queue.TaskStatusPending, queue.TaskStatusFailed, queue.RetryBackoff)
}

func (p *Postgres) RescheduleTask(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	return p.settle(ctx,
		`UPDATE tasks SET status = $2, scheduled_at = $3, locked_until = NULL, locked_by = NULL WHERE id = $1`,
		taskID, queue.TaskStatusPending, at)
}

func (p *Postgres) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	return p.settle(ctx,
		`UPDATE tasks SET locked_until = $2 WHERE id = $1 AND status = $3`,
		taskID, time.Now().Add(duration), queue.TaskStatusExecuting)
}

// MoveToDLQ marks the task failed and copies it to tasks_dlq.
func (p *Postgres) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return p.InTx(ctx, func(ctx context.Context) error {
		now := time.Now()
		var (
			orderID  int64
			action   string
			errMsg   *string
			attempts int
		)
		err := p.conn(ctx).QueryRow(ctx,
			`UPDATE tasks SET status = $2 WHERE id = $1 RETURNING order_id, action, error, attempts`,
			taskID, queue.TaskStatusFailed).Scan(&orderID, &action, &errMsg, &attempts)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return queue.ErrTaskNotFound
			}
			return fmt.Errorf("fail task: %w", err)
		}

		msg := ""
		if errMsg != nil {
			msg = *errMsg
		}
		_, err = p.conn(ctx).Exec(ctx,
			`INSERT INTO tasks_dlq (id, task_id, order_id, action, error, attempts, failed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			uuid.New(), taskID, orderID, action, msg, attempts, now)
		if err != nil {
			return fmt.Errorf("insert dlq: %w", err)
		}
		return nil
	})
}

func (p *Postgres) settle(ctx context.Context, q string, args ...any) error {
	tag, err := p.conn(ctx).Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

var _ queue.Storage = (*Postgres)(nil)
