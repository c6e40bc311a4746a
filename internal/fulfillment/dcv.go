package fulfillment

import (
	"context"
	"errors"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/delegation"
)

// pendingEntries returns the DNS tokens of c still waiting to be published.
func pendingEntries(c *Cert) []delegation.Entry {
	var out []delegation.Entry
	for _, v := range c.Validation {
		if v.Method != ca.MethodDNSTXT || v.Resolved() || v.WrittenAt != nil || v.Value == "" {
			continue
		}
		out = append(out, delegation.Entry{
			Identifier: v.Identifier,
			Name:       v.Name,
			Value:      v.Value,
		})
	}
	return out
}

// needsDCV reports whether any pending DNS token of c has a delegation.
func (e *Engine) needsDCV(ctx context.Context, o *Order, c *Cert) (bool, error) {
	if e.dcv == nil {
		return false, nil
	}
	for _, entry := range pendingEntries(c) {
		ok, err := e.dcv.CanProvision(ctx, o.UserID, entry.Identifier, entry.Name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Revalidate asks the vendor to re-check the tokens of a processing cert.
// When tokens can still be published through a delegation, the write runs
// first and the vendor check follows after RevalidateDelay. A transient
// vendor failure is queued for retry instead of returned.
func (e *Engine) Revalidate(ctx context.Context, orderID int64, actor string) (*Cert, error) {
	const op = "revalidate"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID}, actor); err != nil {
		return nil, err
	}

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusProcessing {
		return nil, stateError(op, c)
	}

	need, err := e.needsDCV(ctx, order, c)
	if err != nil {
		return nil, err
	}
	if need {
		err := e.store.InTx(ctx, func(ctx context.Context) error {
			if err := e.tasks.CreateTask(ctx, orderID, TaskDCVWrite, queue.WithPriority(queue.PriorityHigh)); err != nil {
				return err
			}
			return e.tasks.CreateTask(ctx, orderID, TaskRevalidate, queue.WithDelay(e.cfg.RevalidateDelay))
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := e.ExecuteRevalidate(ctx, orderID); err != nil {
		if _, business := KindOf(err); business {
			return nil, err
		}
		// Transient failure: the queue retries after RevalidateDelay.
		if qerr := e.tasks.CreateTask(ctx, orderID, TaskRevalidate, queue.WithDelay(e.cfg.RevalidateDelay)); qerr != nil {
			return nil, errors.Join(err, qerr)
		}
		e.logger.WarnContext(ctx, "revalidate deferred to queue",
			logger.OrderID(orderID),
			logger.CertID(c.ID),
			logger.Error(err))
	}
	return e.store.GetCert(ctx, c.ID)
}

// ExecuteRevalidate performs the vendor revalidate call. It does nothing
// once the cert left processing.
func (e *Engine) ExecuteRevalidate(ctx context.Context, orderID int64) error {
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return err
	}
	if c.Status != StatusProcessing {
		return nil
	}

	data, err := e.call(ctx, c, ca.ActionRevalidate, ca.Request{})
	if err != nil {
		return err
	}

	return e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		cur, err := e.store.GetCert(ctx, c.ID)
		if err != nil {
			return err
		}
		before := cur.Status
		if err := e.apply(ctx, cur, data); err != nil {
			return err
		}
		if err := e.store.UpdateCert(ctx, cur); err != nil {
			return err
		}
		if _, err := e.afterApply(ctx, order, cur, before); err != nil {
			return err
		}
		return e.tasks.CreateTask(ctx, orderID, TaskSync)
	})
}

// ProvisionDCV publishes the pending DNS tokens of the latest cert through
// the user's delegations and records what was written. A write failure is
// returned after the successful entries are saved so the task retries.
func (e *Engine) ProvisionDCV(ctx context.Context, orderID int64) error {
	if e.dcv == nil {
		return nil
	}
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return err
	}
	if !c.Status.InFlight() {
		return nil
	}
	entries := pendingEntries(c)
	if len(entries) == 0 {
		return nil
	}

	written, provErr := e.dcv.Provision(ctx, order.UserID, entries)

	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.store.LockOrder(ctx, orderID); err != nil {
			return err
		}
		cur, err := e.store.GetCert(ctx, c.ID)
		if err != nil {
			return err
		}
		changed := 0
		for _, w := range written {
			if !w.Written() {
				continue
			}
			for i := range cur.Validation {
				v := &cur.Validation[i]
				if v.Identifier == w.Identifier && v.Value == w.Value && v.WrittenAt == nil {
					v.WrittenAt = w.WrittenAt
					v.DelegationID = w.DelegationID
					changed++
				}
			}
		}
		if changed == 0 {
			return nil
		}
		cur.UpdatedAt = e.now()
		return e.store.UpdateCert(ctx, cur)
	})
	if err != nil {
		return err
	}
	if provErr != nil {
		e.logger.WarnContext(ctx, "dcv provisioning incomplete",
			logger.OrderID(orderID),
			logger.Error(provErr))
	}
	return provErr
}
