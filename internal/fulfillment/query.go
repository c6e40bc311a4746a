package fulfillment

import (
	"context"
	"errors"
)

// Order returns the order with id.
func (e *Engine) Order(ctx context.Context, id int64) (*Order, error) {
	return e.store.GetOrder(ctx, id)
}

// OrderByEABKeyID returns the order bound to an external account key id.
func (e *Engine) OrderByEABKeyID(ctx context.Context, keyID string) (*Order, error) {
	return e.store.GetOrderByEABKeyID(ctx, keyID)
}

// MarkEABUsed records the first use of the order's external account key.
// Later uses keep the first timestamp.
func (e *Engine) MarkEABUsed(ctx context.Context, orderID int64) error {
	return e.store.InTx(ctx, func(ctx context.Context) error {
		o, err := e.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.EABUsedAt != nil {
			return nil
		}
		now := e.now()
		o.EABUsedAt = &now
		o.UpdatedAt = now
		return e.store.UpdateOrder(ctx, o)
	})
}

// Cert returns the cert with id.
func (e *Engine) Cert(ctx context.Context, id int64) (*Cert, error) {
	return e.store.GetCert(ctx, id)
}

// LatestCert returns the current cert of orderID.
func (e *Engine) LatestCert(ctx context.Context, orderID int64) (*Cert, error) {
	return e.store.GetLatestCert(ctx, orderID)
}

// CertByToken returns the cert bound to an ACME order token.
func (e *Engine) CertByToken(ctx context.Context, token string) (*Cert, error) {
	return e.store.GetCertByToken(ctx, token)
}

// CertBySerial returns the cert with the hex serial.
func (e *Engine) CertBySerial(ctx context.Context, serial string) (*Cert, error) {
	return e.store.GetCertBySerial(ctx, serial)
}

// Chain returns the leaf PEM followed by its intermediate, looked up by
// issuer when the cert has none of its own.
func (e *Engine) Chain(ctx context.Context, c *Cert) (string, error) {
	if c.CertPEM == "" {
		return "", newError(KindState, "chain", ErrNotIssued, "cert %d", c.ID)
	}
	if c.ChainPEM != "" {
		return c.CertPEM + c.ChainPEM, nil
	}
	im, err := e.store.GetIntermediate(ctx, c.Issuer)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.CertPEM, nil
		}
		return "", err
	}
	return c.CertPEM + im.PEM, nil
}
