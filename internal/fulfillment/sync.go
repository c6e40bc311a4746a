package fulfillment

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/internal/ca"
)

// moot lists the tasks that no longer apply once a cert leaves the
// in-flight states.
var moot = []string{TaskCommit, TaskSync, TaskRevalidate, TaskDCVWrite}

// Sync polls the vendor for the latest cert of orderID and reconciles local
// state. Without force the poll is skipped for terminal certs and while the
// per-order throttle window is open. Force bypasses only the throttle:
// a terminal status is never regressed.
func (e *Engine) Sync(ctx context.Context, orderID int64, force bool) (*Cert, error) {
	c, err := e.store.GetLatestCert(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if c.VendorID == "" {
		return c, nil
	}
	if !force && (c.Status.Terminal() || !e.throttle(ctx, orderID)) {
		return c, nil
	}

	data, err := e.call(ctx, c, ca.ActionGet, ca.Request{})
	if err != nil {
		return nil, err
	}

	var (
		cert   *Cert
		events []notify.Event
	)
	err = e.store.InTx(ctx, func(ctx context.Context) error {
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
		evs, err := e.afterApply(ctx, order, cur, before)
		if err != nil {
			return err
		}
		cert, events = cur, evs
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return cert, nil
}

// apply folds vendor data into c. Status only moves forward.
func (e *Engine) apply(ctx context.Context, c *Cert, data *ca.Data) error {
	if data == nil {
		return nil
	}
	if c.VendorID == "" && data.APIID != "" {
		c.VendorID = data.APIID
	}
	if data.DCV != nil && data.DCV.Method != "" {
		c.DCVMethod = data.DCV.Method
	}
	if len(data.Validation) > 0 {
		c.Validation = mergeValidation(c.Validation, data.Validation)
	}
	if data.Cert != "" && c.CertPEM == "" {
		if err := e.storeIssued(ctx, c, data.Cert, data.Intermediate); err != nil {
			return err
		}
	}

	to := statusFromVendor(data.CertApplyStatus)
	if to == StatusActive && c.CertPEM == "" {
		to = StatusApproving
	}
	if c.Status.canAdvance(to) {
		e.transition(ctx, c, to)
	}
	c.UpdatedAt = e.now()
	return nil
}

// afterApply schedules or clears tasks for c's new status and returns the
// events to deliver once the transaction commits.
func (e *Engine) afterApply(ctx context.Context, o *Order, c *Cert, before Status) ([]notify.Event, error) {
	if c.Status == before {
		if c.Status.InFlight() {
			return nil, e.scheduleInFlight(ctx, o, c)
		}
		return nil, nil
	}

	switch c.Status {
	case StatusActive:
		if _, err := e.tasks.DeleteTasks(ctx, o.ID, moot...); err != nil {
			return nil, err
		}
		return []notify.Event{e.event(notify.EventCertIssued, o, c)}, nil
	case StatusCancelled:
		if _, err := e.tasks.DeleteTasks(ctx, o.ID, append(moot, TaskCancel)...); err != nil {
			return nil, err
		}
		return []notify.Event{e.event(notify.EventCertCancelled, o, c)}, nil
	case StatusRevoked:
		if _, err := e.tasks.DeleteTasks(ctx, o.ID, append(moot, TaskCancel)...); err != nil {
			return nil, err
		}
		return []notify.Event{e.event(notify.EventCertRevoked, o, c)}, nil
	case StatusFailed, StatusExpired:
		_, err := e.tasks.DeleteTasks(ctx, o.ID, moot...)
		return nil, err
	}

	if c.Status.InFlight() {
		return nil, e.scheduleInFlight(ctx, o, c)
	}
	return nil, nil
}

// scheduleInFlight keeps the sync poller alive and queues a DNS write when
// fresh tokens can be published.
func (e *Engine) scheduleInFlight(ctx context.Context, o *Order, c *Cert) error {
	if err := e.tasks.CreateTask(ctx, o.ID, TaskSync, queue.WithDelay(e.cfg.SyncInterval)); err != nil {
		return err
	}
	need, err := e.needsDCV(ctx, o, c)
	if err != nil {
		e.logger.WarnContext(ctx, "delegation lookup failed", logger.OrderID(o.ID), logger.Error(err))
		return nil
	}
	if need {
		return e.tasks.CreateTask(ctx, o.ID, TaskDCVWrite, queue.WithPriority(queue.PriorityHigh))
	}
	return nil
}

// storeIssued records the leaf PEM and its metadata and keeps the
// intermediate for chain assembly.
func (e *Engine) storeIssued(ctx context.Context, c *Cert, certPEM, intermediatePEM string) error {
	leaf, err := parseLeaf(certPEM)
	if err != nil {
		return newError(KindVendor, "store-cert", err, "cert %d", c.ID)
	}

	c.CertPEM = strings.TrimSpace(certPEM) + "\n"
	c.Issuer = leaf.Issuer.String()
	c.Serial = fmt.Sprintf("%x", leaf.SerialNumber)
	notBefore, notAfter := leaf.NotBefore, leaf.NotAfter
	c.NotBefore, c.NotAfter = &notBefore, &notAfter

	if intermediatePEM == "" {
		return nil
	}
	c.ChainPEM = strings.TrimSpace(intermediatePEM) + "\n"
	return e.store.UpsertIntermediate(ctx, Intermediate{
		Subject:   c.Issuer,
		PEM:       c.ChainPEM,
		CreatedAt: e.now(),
	})
}

var errNoCertificate = errors.New("no certificate in PEM data")

func parseLeaf(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errNoCertificate
	}
	return x509.ParseCertificate(block.Bytes)
}
