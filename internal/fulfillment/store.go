package fulfillment

import (
	"context"

	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/internal/delegation"
)

// Store persists orders, certs and intermediates. Lookups return ErrNotFound
// when nothing matches. Methods called with a context from InTx run inside
// that transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByEABKeyID(ctx context.Context, keyID string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id int64) error

	CreateCert(ctx context.Context, c *Cert) error
	GetCert(ctx context.Context, id int64) (*Cert, error)
	GetLatestCert(ctx context.Context, orderID int64) (*Cert, error)
	GetCertByToken(ctx context.Context, token string) (*Cert, error)
	GetCertBySerial(ctx context.Context, serial string) (*Cert, error)
	UpdateCert(ctx context.Context, c *Cert) error
	DeleteCert(ctx context.Context, id int64) error

	UpsertIntermediate(ctx context.Context, im Intermediate) error
	GetIntermediate(ctx context.Context, subject string) (*Intermediate, error)
}

// TaskQueue schedules per-order tasks. *queue.Enqueuer implements it.
type TaskQueue interface {
	CreateTask(ctx context.Context, orderID int64, action string, opts ...queue.EnqueueOption) error
	DeleteTasks(ctx context.Context, orderID int64, actions ...string) (int64, error)
}

// Notifier delivers lifecycle events. *notify.Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// DCVProvisioner publishes DNS validation tokens through delegations.
// *delegation.Service implements it.
type DCVProvisioner interface {
	CanProvision(ctx context.Context, userID int64, identifier, name string) (bool, error)
	Provision(ctx context.Context, userID int64, entries []delegation.Entry) ([]delegation.Entry, error)
}
