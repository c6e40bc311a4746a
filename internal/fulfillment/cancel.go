package fulfillment

import (
	"context"
	"encoding/pem"
	"errors"
	"time"

	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/internal/ca"
)

// CommitCancel cancels the latest cert of orderID.
//
// An unpaid cert is deleted together with its order, or the superseded cert
// gets its previous status back. A pending cert is cancelled at once.
// Submitted and active certs move to cancelling and a deferred cancel task
// is scheduled; RevokeCancel can undo it until the task starts. A nil cert
// is returned only when the cert row was deleted.
func (e *Engine) CommitCancel(ctx context.Context, orderID int64, actor string) (*Cert, error) {
	const op = "cancel"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID}, actor); err != nil {
		return nil, err
	}

	var (
		cert   *Cert
		events []notify.Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		c, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}

		switch c.Status {
		case StatusUnpaid:
			return e.dropUnpaid(ctx, order, c)

		case StatusPending:
			e.transition(ctx, c, StatusCancelled)
			if err := e.store.UpdateCert(ctx, c); err != nil {
				return err
			}
			if _, err := e.tasks.DeleteTasks(ctx, orderID, moot...); err != nil {
				return err
			}
			cert = c
			events = append(events, e.event(notify.EventCertCancelled, order, c))
			return nil

		case StatusProcessing, StatusApproving, StatusActive:
			product, err := e.product(order)
			if err != nil {
				return err
			}
			deadline := c.CreatedAt.Add(time.Duration(product.RefundDays) * 24 * time.Hour)
			if !e.now().Before(deadline) {
				return newError(KindPolicy, op, ErrRefundWindowClosed, "cert %d: %d days", c.ID, product.RefundDays)
			}
			c.PrevStatus = c.Status
			e.transition(ctx, c, StatusCancelling)
			if err := e.store.UpdateCert(ctx, c); err != nil {
				return err
			}
			if _, err := e.tasks.DeleteTasks(ctx, orderID, moot...); err != nil {
				return err
			}
			cert = c
			return e.tasks.CreateTask(ctx, orderID, TaskCancel, queue.WithDelay(e.cfg.CancelDelay))

		case StatusCancelling, StatusCancelled:
			cert = c
			return nil

		default:
			return stateError(op, c)
		}
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return cert, nil
}

// dropUnpaid removes an unpaid cert. The first cert takes its order with
// it; a renewal restores the cert it superseded.
func (e *Engine) dropUnpaid(ctx context.Context, o *Order, c *Cert) error {
	if err := e.store.DeleteCert(ctx, c.ID); err != nil {
		return err
	}
	if c.LastCertID == 0 {
		return e.store.DeleteOrder(ctx, o.ID)
	}

	prior, err := e.store.GetCert(ctx, c.LastCertID)
	if err != nil {
		return err
	}
	if prior.PrevStatus != "" {
		e.transition(ctx, prior, prior.PrevStatus)
		prior.PrevStatus = ""
		if err := e.store.UpdateCert(ctx, prior); err != nil {
			return err
		}
	}
	o.Amount -= c.Amount
	o.UpdatedAt = e.now()
	return e.store.UpdateOrder(ctx, o)
}

// ExecuteCancel runs the deferred cancel. It does nothing unless the cert is
// still cancelling.
func (e *Engine) ExecuteCancel(ctx context.Context, orderID int64) error {
	var events []notify.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		c, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}
		if c.Status != StatusCancelling {
			return nil
		}

		if c.VendorID != "" {
			if _, err := e.call(ctx, c, ca.ActionCancel, ca.Request{}); err != nil {
				return err
			}
		}
		e.transition(ctx, c, StatusCancelled)
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		events = append(events, e.event(notify.EventCertCancelled, order, c))
		return nil
	})
	if err != nil {
		return err
	}
	e.dispatch(ctx, events)
	return nil
}

// RevokeCancel undoes a deferred cancel that has not started yet and
// restores the status the cert had before.
func (e *Engine) RevokeCancel(ctx context.Context, orderID int64, actor string) (*Cert, error) {
	const op = "revoke-cancel"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID}, actor); err != nil {
		return nil, err
	}

	var cert *Cert
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		c, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}
		if c.Status != StatusCancelling {
			return stateError(op, c)
		}

		n, err := e.tasks.DeleteTasks(ctx, orderID, TaskCancel)
		if err != nil {
			return err
		}
		if n == 0 {
			return newError(KindState, op, ErrCancelStarted, "cert %d", c.ID)
		}

		to := c.PrevStatus
		if to == "" {
			to = StatusProcessing
		}
		e.transition(ctx, c, to)
		c.PrevStatus = ""
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		cert = c
		if c.Status.InFlight() {
			return e.scheduleInFlight(ctx, order, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// Revoke revokes the latest cert of orderID.
func (e *Engine) Revoke(ctx context.Context, orderID int64, reason int, actor string) (*Cert, error) {
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.RevokeCert(ctx, c.ID, reason, actor)
}

// RevokeCert revokes an issued cert, including one already superseded by a
// renewal or reissue. Revoking twice is a no-op.
func (e *Engine) RevokeCert(ctx context.Context, certID int64, reason int, actor string) (*Cert, error) {
	const op = "revoke"
	if err := e.guard(ctx, op, map[string]any{"cert_id": certID, "reason": reason}, actor); err != nil {
		return nil, err
	}

	probe, err := e.store.GetCert(ctx, certID)
	if err != nil {
		return nil, err
	}

	var (
		cert   *Cert
		events []notify.Event
	)
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, probe.OrderID)
		if err != nil {
			return err
		}
		c, err := e.store.GetCert(ctx, certID)
		if err != nil {
			return err
		}
		cert = c

		switch c.Status {
		case StatusRevoked:
			return nil
		case StatusActive, StatusRenewed, StatusReissued:
		default:
			return stateError(op, c)
		}
		block, _ := pem.Decode([]byte(c.CertPEM))
		if block == nil {
			return newError(KindState, op, ErrNotIssued, "cert %d", c.ID)
		}

		if _, err := e.call(ctx, c, ca.ActionRevoke, ca.Request{Certificate: block.Bytes, Reason: reason}); err != nil {
			return err
		}
		e.transition(ctx, c, StatusRevoked)
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		latest, err := e.store.GetLatestCert(ctx, order.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if latest != nil && latest.ID == c.ID {
			if _, err := e.tasks.DeleteTasks(ctx, order.ID, append(moot, TaskCancel)...); err != nil {
				return err
			}
		}
		events = append(events, e.event(notify.EventCertRevoked, order, c))
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return cert, nil
}
