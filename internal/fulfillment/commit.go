package fulfillment

import (
	"bytes"
	"context"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/internal/ca"
)

// Commit submits the pending cert of orderID to its vendor. The order row
// stays locked for the whole call so concurrent commits submit once.
// A vendor rejection rolls everything back.
func (e *Engine) Commit(ctx context.Context, orderID int64, actor string) (*Cert, error) {
	const op = "commit"
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
		if c.Status != StatusPending {
			return stateError(op, c)
		}
		if len(c.Identifiers) == 0 {
			return newError(KindValidation, op, ErrNoIdentifiers, "cert %d", c.ID)
		}
		product, err := e.product(order)
		if err != nil {
			return err
		}

		data, err := e.call(ctx, c, ca.ActionSubmit, vendorRequest(order, product, c))
		if err != nil {
			return err
		}
		if c.Vendor == "" {
			c.Vendor = e.cfg.DefaultVendor
		}
		if data.CertApplyStatus == "" {
			data.CertApplyStatus = ca.ApplyProcessing
		}

		before := c.Status
		if err := e.apply(ctx, c, data); err != nil {
			return err
		}
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		if events, err = e.afterApply(ctx, order, c, before); err != nil {
			return err
		}
		cert = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "cert submitted",
		logger.OrderID(orderID),
		logger.CertID(cert.ID),
		logger.Vendor(cert.Vendor),
		logger.Key("vendor_id", cert.VendorID))
	e.dispatch(ctx, events)
	return cert, nil
}

// Finalize submits the CSR for a processing cert whose identifiers are all
// validated. Repeating the call with the same CSR is a no-op.
func (e *Engine) Finalize(ctx context.Context, orderID int64, csrDER []byte, actor string) (*Cert, error) {
	const op = "finalize"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID, "csr": csrDER}, actor); err != nil {
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
		if len(c.CSR) > 0 {
			if bytes.Equal(c.CSR, csrDER) {
				cert = c
				return nil
			}
			return stateError(op, c)
		}
		if c.Status != StatusProcessing || !c.AllValid() {
			return stateError(op, c)
		}

		data, err := e.call(ctx, c, ca.ActionFinalize, ca.Request{CSR: csrDER})
		if err != nil {
			return err
		}
		c.CSR = csrDER

		before := c.Status
		if err := e.apply(ctx, c, data); err != nil {
			return err
		}
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		if events, err = e.afterApply(ctx, order, c, before); err != nil {
			return err
		}
		cert = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return cert, nil
}

// UpdateDCV switches the validation method. Before submission only the
// local setting changes; a processing cert is updated at the vendor and
// gets fresh tokens.
func (e *Engine) UpdateDCV(ctx context.Context, orderID int64, method, actor string) (*Cert, error) {
	const op = "update-dcv"
	if !validDCVMethod(method) {
		return nil, newError(KindValidation, op, ErrInvalidDCVMethod, "%q", method)
	}
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID, "method": method}, actor); err != nil {
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
		cert = c

		switch c.Status {
		case StatusUnpaid, StatusPending:
			c.DCVMethod = method
			c.UpdatedAt = e.now()
			return e.store.UpdateCert(ctx, c)
		case StatusProcessing:
		default:
			return stateError(op, c)
		}

		data, err := e.call(ctx, c, ca.ActionUpdateDCV, ca.Request{DCVMethod: method})
		if err != nil {
			return err
		}
		c.DCVMethod = method
		if err := e.apply(ctx, c, data); err != nil {
			return err
		}
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		return e.scheduleInFlight(ctx, order, c)
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}
