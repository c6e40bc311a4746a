// Package queue is a durable task queue for order-bound background work.
//
// A Task names an order and an action ("commit", "sync", "cancel", ...).
// At most one task per (order, action) is active at a time: creating a second
// one while the first is pending or executing is a no-op. DeleteTasks stops
// pending tasks and reports how many it stopped, which lets callers tell a
// removed deferred task from one that already started.
//
// Workers poll the storage, claim due tasks under a lease and run the handler
// registered for the task's action. Failures are retried with a linear
// backoff of RetryBackoff per attempt; a task that exhausts its attempts is
// copied to the dead letter queue. A panicking handler counts as a failure.
//
//	svc, _ := queue.NewService(queue.NewMemoryStorage())
//	svc.RegisterHandlers(queue.NewTaskHandler("sync", func(ctx context.Context, orderID int64) error {
//		return engine.Sync(ctx, orderID, false)
//	}))
//	_ = svc.Enqueuer().CreateTask(ctx, 42, "sync", queue.WithDelay(time.Minute))
//
// The Scheduler creates periodic tasks with OrderID 0 on an interval Schedule.
//
// Storage implementations that support transactions should write through the
// transaction carried by ctx so tasks commit together with the state change
// that created them.
package queue
