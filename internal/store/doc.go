// Package store implements the fulfillment, ACME and delegation
// repositories on PostgreSQL (pgx) and in memory.
//
// Both backends implement every repository on one value so a single
// transaction can span orders, certs, authorizations and queue tasks:
//
//	db := store.NewPostgres(pool)
//	err := db.InTx(ctx, func(ctx context.Context) error {
//		o, err := db.LockOrder(ctx, id)
//		...
//	})
package store
