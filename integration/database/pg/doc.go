// Package pg connects a pgx pool, applies goose migrations and carries
// transactions through context.
//
// Repositories call Conn(ctx, pool) so they transparently join a transaction
// started by InTx. That is how queue tasks are written in the same
// transaction as the order change that schedules them:
//
//	err := pg.InTx(ctx, pool, func(ctx context.Context) error {
//		if err := certs.Update(ctx, cert); err != nil {
//			return err
//		}
//		return enqueuer.CreateTask(ctx, order.ID, "sync")
//	})
package pg
