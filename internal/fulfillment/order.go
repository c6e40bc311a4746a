package fulfillment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/internal/ca"
)

// NewParams describes a new business order.
type NewParams struct {
	UserID       int64    `json:"user_id"`
	ProductID    string   `json:"product_id"`
	Period       int      `json:"period"`
	Contact      string   `json:"contact"`
	Organization string   `json:"organization"`
	Identifiers  []string `json:"identifiers"`
	DCVMethod    string   `json:"dcv_method"`
	Channel      Channel  `json:"channel"`
	Actor        string   `json:"-"`
}

// New creates an Order with its first, unpaid Cert. Identifiers may be empty
// for orders fulfilled over ACME; they arrive with the first ACME order.
func (e *Engine) New(ctx context.Context, p NewParams) (*Order, *Cert, error) {
	const op = "new"
	if err := e.guard(ctx, op, p, p.Actor); err != nil {
		return nil, nil, err
	}

	product, err := e.catalog.Get(p.ProductID)
	if err != nil {
		return nil, nil, newError(KindValidation, op, err, "%s", p.ProductID)
	}
	if p.Period == 0 {
		p.Period = product.DefaultPeriod()
	}
	amount, err := product.Price(p.Period)
	if err != nil {
		return nil, nil, newError(KindValidation, op, err, "%d months", p.Period)
	}
	ids, err := normalizeIdentifiers(product, p.Identifiers)
	if err != nil {
		return nil, nil, err
	}
	method := p.DCVMethod
	if method == "" {
		method = product.DCVMethod
	}
	if !validDCVMethod(method) {
		return nil, nil, newError(KindValidation, op, ErrInvalidDCVMethod, "%q", method)
	}
	channel := p.Channel
	if channel == "" {
		channel = ChannelAPI
	}

	kid, err := randomToken(16)
	if err != nil {
		return nil, nil, err
	}
	hmacKey := make([]byte, 32)
	if _, err := rand.Read(hmacKey); err != nil {
		return nil, nil, fmt.Errorf("eab key: %w", err)
	}

	now := e.now()
	order := &Order{
		UserID:       p.UserID,
		ProductID:    product.ID,
		Period:       p.Period,
		Amount:       amount,
		Contact:      p.Contact,
		Organization: p.Organization,
		EABKeyID:     kid,
		EABHMAC:      hmacKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cert := &Cert{
		Action:      ActionNew,
		Channel:     channel,
		Status:      StatusUnpaid,
		Vendor:      product.Vendor,
		DCVMethod:   method,
		Identifiers: ids,
		Amount:      amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if err := e.store.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		cert.OrderID = order.ID
		if err := e.store.CreateCert(ctx, cert); err != nil {
			return fmt.Errorf("create cert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.InfoContext(ctx, "order created",
		logger.OrderID(order.ID),
		logger.CertID(cert.ID),
		logger.UserID(order.UserID))
	return order, cert, nil
}

// Pay moves the latest unpaid Cert to pending and, for API orders with
// identifiers, schedules its commit.
func (e *Engine) Pay(ctx context.Context, orderID int64, actor string) (*Cert, error) {
	const op = "pay"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID}, actor); err != nil {
		return nil, err
	}

	var cert *Cert
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.store.LockOrder(ctx, orderID); err != nil {
			return err
		}
		c, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}
		cert = c

		switch c.Status {
		case StatusUnpaid:
		case StatusPending, StatusProcessing, StatusApproving, StatusActive:
			return nil
		default:
			return stateError(op, c)
		}

		e.transition(ctx, c, StatusPending)
		if err := e.store.UpdateCert(ctx, c); err != nil {
			return err
		}
		if c.Channel == ChannelAPI && len(c.Identifiers) > 0 {
			return e.tasks.CreateTask(ctx, orderID, TaskCommit)
		}
		return nil
	})
	return cert, err
}

// RenewParams describes a renewal.
type RenewParams struct {
	Period      int      `json:"period"`
	Identifiers []string `json:"identifiers"`
	Actor       string   `json:"-"`
}

// Renew supersedes the active or expired Cert with a new unpaid one.
func (e *Engine) Renew(ctx context.Context, orderID int64, p RenewParams) (*Cert, error) {
	const op = "renew"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID, "params": p}, p.Actor); err != nil {
		return nil, err
	}

	var cert *Cert
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		prior, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}
		if prior.Status != StatusActive && prior.Status != StatusExpired {
			return stateError(op, prior)
		}

		product, err := e.product(order)
		if err != nil {
			return err
		}
		period := p.Period
		if period == 0 {
			period = order.Period
		}
		amount, err := product.Price(period)
		if err != nil {
			return newError(KindValidation, op, err, "%d months", period)
		}
		ids := prior.Identifiers
		if len(p.Identifiers) > 0 {
			if ids, err = normalizeIdentifiers(product, p.Identifiers); err != nil {
				return err
			}
		}

		prior.PrevStatus = prior.Status
		e.transition(ctx, prior, StatusRenewed)
		if err := e.store.UpdateCert(ctx, prior); err != nil {
			return err
		}
		if _, err := e.tasks.DeleteTasks(ctx, orderID, TaskSync, TaskRevalidate, TaskDCVWrite); err != nil {
			return err
		}

		now := e.now()
		cert = &Cert{
			OrderID:     orderID,
			LastCertID:  prior.ID,
			Action:      ActionRenew,
			Channel:     prior.Channel,
			Status:      StatusUnpaid,
			Vendor:      prior.Vendor,
			DCVMethod:   prior.DCVMethod,
			Identifiers: ids,
			Amount:      amount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.store.CreateCert(ctx, cert); err != nil {
			return err
		}

		order.Period = period
		order.Amount += amount
		order.UpdatedAt = now
		return e.store.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// ReissueParams describes a reissue.
type ReissueParams struct {
	Identifiers []string `json:"identifiers"`
	DCVMethod   string   `json:"dcv_method"`
	Channel     Channel  `json:"channel"`
	Token       string   `json:"-"`
	Actor       string   `json:"-"`
}

// Reissue supersedes the active Cert with a new pending one and adds the
// product's reissue fee to the order amount.
func (e *Engine) Reissue(ctx context.Context, orderID int64, p ReissueParams) (*Cert, error) {
	const op = "reissue"
	if err := e.guard(ctx, op, map[string]any{"order_id": orderID, "params": p}, p.Actor); err != nil {
		return nil, err
	}

	var cert *Cert
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		prior, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}
		cert, err = e.reissueLocked(ctx, order, prior, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func (e *Engine) reissueLocked(ctx context.Context, order *Order, prior *Cert, p ReissueParams) (*Cert, error) {
	const op = "reissue"
	if prior.Status != StatusActive {
		return nil, stateError(op, prior)
	}
	product, err := e.product(order)
	if err != nil {
		return nil, err
	}

	ids := prior.Identifiers
	if len(p.Identifiers) > 0 {
		if ids, err = normalizeIdentifiers(product, p.Identifiers); err != nil {
			return nil, err
		}
	}
	method := p.DCVMethod
	if method == "" {
		method = prior.DCVMethod
	}
	if !validDCVMethod(method) {
		return nil, newError(KindValidation, op, ErrInvalidDCVMethod, "%q", method)
	}
	channel := p.Channel
	if channel == "" {
		channel = prior.Channel
	}

	prior.PrevStatus = prior.Status
	e.transition(ctx, prior, StatusReissued)
	if err := e.store.UpdateCert(ctx, prior); err != nil {
		return nil, err
	}

	now := e.now()
	cert := &Cert{
		OrderID:     order.ID,
		LastCertID:  prior.ID,
		Action:      ActionReissue,
		Channel:     channel,
		Status:      StatusPending,
		Vendor:      prior.Vendor,
		DCVMethod:   method,
		Identifiers: ids,
		Token:       p.Token,
		Amount:      product.ReissueFee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateCert(ctx, cert); err != nil {
		return nil, err
	}

	order.Amount += product.ReissueFee
	order.UpdatedAt = now
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	if channel == ChannelAPI && len(ids) > 0 {
		if err := e.tasks.CreateTask(ctx, order.ID, TaskCommit); err != nil {
			return nil, err
		}
	}
	return cert, nil
}

// PrepareACME binds an ACME order to the business order: a pending Cert
// takes the identifiers and token, an active one is reissued with them.
// The caller commits the returned Cert.
func (e *Engine) PrepareACME(ctx context.Context, orderID int64, identifiers []string, token string) (*Cert, error) {
	const op = "acme-order"
	if len(identifiers) == 0 {
		return nil, newError(KindValidation, op, ErrNoIdentifiers, "order %d", orderID)
	}

	var cert *Cert
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		order, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		latest, err := e.store.GetLatestCert(ctx, orderID)
		if err != nil {
			return err
		}

		switch latest.Status {
		case StatusPending:
			product, err := e.product(order)
			if err != nil {
				return err
			}
			ids, err := normalizeIdentifiers(product, identifiers)
			if err != nil {
				return err
			}
			latest.Identifiers = ids
			latest.Channel = ChannelACME
			latest.Token = token
			latest.UpdatedAt = e.now()
			cert = latest
			return e.store.UpdateCert(ctx, latest)
		case StatusActive:
			cert, err = e.reissueLocked(ctx, order, latest, ReissueParams{
				Identifiers: identifiers,
				Channel:     ChannelACME,
				Token:       token,
			})
			return err
		default:
			return stateError(op, latest)
		}
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// History returns the order's Certs, newest first.
func (e *Engine) History(ctx context.Context, orderID int64) ([]Cert, error) {
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return nil, err
	}

	history := []Cert{*c}
	seen := map[int64]bool{c.ID: true}
	for c.LastCertID != 0 {
		if seen[c.LastCertID] {
			return nil, fmt.Errorf("cert history loop at %d", c.LastCertID)
		}
		prev, err := e.store.GetCert(ctx, c.LastCertID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[prev.ID] = true
		history = append(history, *prev)
		c = prev
	}
	return history, nil
}

// vendorRequest builds the submit payload for c.
func vendorRequest(o *Order, p Product, c *Cert) ca.Request {
	return ca.Request{
		ProductCode:  p.VendorProduct,
		Period:       o.Period,
		Identifiers:  c.Identifiers,
		DCVMethod:    c.DCVMethod,
		CSR:          c.CSR,
		Contact:      o.Contact,
		Organization: o.Organization,
	}
}
