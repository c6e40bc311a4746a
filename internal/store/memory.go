package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/delegation"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

type memTxKey struct{}

// Memory keeps every repository in process memory. Transactions are
// serialized and a failed one restores the state it started from.
// Queue tasks live in their own storage and are not rolled back.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memData
}

type memData struct {
	seq           int64
	orders        map[int64]*fulfillment.Order
	certs         map[int64]*fulfillment.Cert
	intermediates map[string]fulfillment.Intermediate
	accounts      map[string]*acme.Account
	authzs        map[string]acme.Authorization
	delegations   map[int64]*delegation.Delegation
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		data: memData{
			orders:        make(map[int64]*fulfillment.Order),
			certs:         make(map[int64]*fulfillment.Cert),
			intermediates: make(map[string]fulfillment.Intermediate),
			accounts:      make(map[string]*acme.Account),
			authzs:        make(map[string]acme.Authorization),
			delegations:   make(map[int64]*delegation.Delegation),
		},
	}
}

func (d memData) clone() memData {
	out := memData{
		seq:           d.seq,
		orders:        make(map[int64]*fulfillment.Order, len(d.orders)),
		certs:         make(map[int64]*fulfillment.Cert, len(d.certs)),
		intermediates: maps.Clone(d.intermediates),
		accounts:      make(map[string]*acme.Account, len(d.accounts)),
		authzs:        maps.Clone(d.authzs),
		delegations:   make(map[int64]*delegation.Delegation, len(d.delegations)),
	}
	for id, o := range d.orders {
		cp := *o
		out.orders[id] = &cp
	}
	for id, c := range d.certs {
		out.certs[id] = c.Clone()
	}
	for id, a := range d.accounts {
		cp := *a
		cp.Contact = slices.Clone(a.Contact)
		out.accounts[id] = &cp
	}
	for id, dl := range d.delegations {
		cp := *dl
		out.delegations[id] = &cp
	}
	return out
}

func inMemTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(bool)
	return ok
}

// InTx runs fn with exclusive access. Nested calls join the outer one.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			m.restore(snapshot)
			panic(p)
		}
		if err != nil {
			m.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func (m *Memory) restore(d memData) {
	m.mu.Lock()
	m.data = d
	m.mu.Unlock()
}

// write runs fn under the write lock. Outside a transaction it also waits
// for running transactions so a rollback cannot drop the write. Code running
// inside InTx must pass the transaction ctx; a plain ctx there deadlocks on
// txMu.
func (m *Memory) write(ctx context.Context, fn func(d *memData) error) error {
	if !inMemTx(ctx) {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.data)
}

func (m *Memory) read(fn func(d *memData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&m.data)
}

func (d *memData) next() int64 {
	d.seq++
	return d.seq
}

// Orders.

func (m *Memory) CreateOrder(ctx context.Context, o *fulfillment.Order) error {
	return m.write(ctx, func(d *memData) error {
		o.ID = d.next()
		cp := *o
		d.orders[o.ID] = &cp
		return nil
	})
}

func (m *Memory) GetOrder(_ context.Context, id int64) (*fulfillment.Order, error) {
	var out *fulfillment.Order
	err := m.read(func(d *memData) error {
		o, ok := d.orders[id]
		if !ok {
			return fulfillment.ErrNotFound
		}
		cp := *o
		out = &cp
		return nil
	})
	return out, err
}

// LockOrder is GetOrder; the transaction itself is exclusive.
func (m *Memory) LockOrder(ctx context.Context, id int64) (*fulfillment.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *Memory) GetOrderByEABKeyID(_ context.Context, keyID string) (*fulfillment.Order, error) {
	var out *fulfillment.Order
	err := m.read(func(d *memData) error {
		for _, o := range d.orders {
			if o.EABKeyID == keyID {
				cp := *o
				out = &cp
				return nil
			}
		}
		return fulfillment.ErrNotFound
	})
	return out, err
}

func (m *Memory) UpdateOrder(ctx context.Context, o *fulfillment.Order) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.orders[o.ID]; !ok {
			return fulfillment.ErrNotFound
		}
		cp := *o
		d.orders[o.ID] = &cp
		return nil
	})
}

// DeleteOrder removes the order with its certs and their authorizations.
func (m *Memory) DeleteOrder(ctx context.Context, id int64) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.orders[id]; !ok {
			return fulfillment.ErrNotFound
		}
		delete(d.orders, id)
		for cid, c := range d.certs {
			if c.OrderID == id {
				d.deleteCert(cid)
			}
		}
		return nil
	})
}

// Certs.

func (m *Memory) CreateCert(ctx context.Context, c *fulfillment.Cert) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.orders[c.OrderID]; !ok {
			return fulfillment.ErrNotFound
		}
		c.ID = d.next()
		d.certs[c.ID] = c.Clone()
		return nil
	})
}

func (m *Memory) GetCert(_ context.Context, id int64) (*fulfillment.Cert, error) {
	return m.findCert(func(c *fulfillment.Cert) bool { return c.ID == id })
}

// GetLatestCert returns the newest cert of the order.
func (m *Memory) GetLatestCert(_ context.Context, orderID int64) (*fulfillment.Cert, error) {
	var out *fulfillment.Cert
	err := m.read(func(d *memData) error {
		for _, c := range d.certs {
			if c.OrderID == orderID && (out == nil || c.ID > out.ID) {
				out = c
			}
		}
		if out == nil {
			return fulfillment.ErrNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

func (m *Memory) GetCertByToken(_ context.Context, token string) (*fulfillment.Cert, error) {
	if token == "" {
		return nil, fulfillment.ErrNotFound
	}
	return m.findCert(func(c *fulfillment.Cert) bool { return c.Token == token })
}

func (m *Memory) GetCertBySerial(_ context.Context, serial string) (*fulfillment.Cert, error) {
	if serial == "" {
		return nil, fulfillment.ErrNotFound
	}
	return m.findCert(func(c *fulfillment.Cert) bool { return strings.EqualFold(c.Serial, serial) })
}

func (m *Memory) findCert(match func(c *fulfillment.Cert) bool) (*fulfillment.Cert, error) {
	var out *fulfillment.Cert
	err := m.read(func(d *memData) error {
		for _, c := range d.certs {
			if match(c) {
				out = c.Clone()
				return nil
			}
		}
		return fulfillment.ErrNotFound
	})
	return out, err
}

func (m *Memory) UpdateCert(ctx context.Context, c *fulfillment.Cert) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.certs[c.ID]; !ok {
			return fulfillment.ErrNotFound
		}
		d.certs[c.ID] = c.Clone()
		return nil
	})
}

func (m *Memory) DeleteCert(ctx context.Context, id int64) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.certs[id]; !ok {
			return fulfillment.ErrNotFound
		}
		d.deleteCert(id)
		return nil
	})
}

func (d *memData) deleteCert(id int64) {
	delete(d.certs, id)
	for token, a := range d.authzs {
		if a.CertID == id {
			delete(d.authzs, token)
		}
	}
}

// Intermediates.

func (m *Memory) UpsertIntermediate(ctx context.Context, im fulfillment.Intermediate) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.intermediates[im.Subject]; ok {
			return nil
		}
		d.intermediates[im.Subject] = im
		return nil
	})
}

func (m *Memory) GetIntermediate(_ context.Context, subject string) (*fulfillment.Intermediate, error) {
	var out *fulfillment.Intermediate
	err := m.read(func(d *memData) error {
		im, ok := d.intermediates[subject]
		if !ok {
			return fulfillment.ErrNotFound
		}
		out = &im
		return nil
	})
	return out, err
}

// Accounts and authorizations.

func (m *Memory) CreateAccount(ctx context.Context, a *acme.Account) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.accounts[a.KeyID]; ok {
			return acme.ErrAccountExists
		}
		cp := *a
		cp.Contact = slices.Clone(a.Contact)
		d.accounts[a.KeyID] = &cp
		return nil
	})
}

func (m *Memory) GetAccount(_ context.Context, keyID string) (*acme.Account, error) {
	var out *acme.Account
	err := m.read(func(d *memData) error {
		a, ok := d.accounts[keyID]
		if !ok {
			return acme.ErrNotFound
		}
		cp := *a
		cp.Contact = slices.Clone(a.Contact)
		out = &cp
		return nil
	})
	return out, err
}

func (m *Memory) UpdateAccount(ctx context.Context, a *acme.Account) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.accounts[a.KeyID]; !ok {
			return acme.ErrNotFound
		}
		cp := *a
		cp.Contact = slices.Clone(a.Contact)
		d.accounts[a.KeyID] = &cp
		return nil
	})
}

func (m *Memory) CreateAuthorizations(ctx context.Context, authzs []acme.Authorization) error {
	return m.write(ctx, func(d *memData) error {
		for _, a := range authzs {
			if _, ok := d.certs[a.CertID]; !ok {
				return fulfillment.ErrNotFound
			}
		}
		for _, a := range authzs {
			d.authzs[a.Token] = a
		}
		return nil
	})
}

func (m *Memory) GetAuthorization(_ context.Context, token string) (*acme.Authorization, error) {
	var out *acme.Authorization
	err := m.read(func(d *memData) error {
		a, ok := d.authzs[token]
		if !ok {
			return acme.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

// ListAuthorizations returns the cert's authorizations ordered by identifier.
func (m *Memory) ListAuthorizations(_ context.Context, certID int64) ([]acme.Authorization, error) {
	var out []acme.Authorization
	err := m.read(func(d *memData) error {
		for _, a := range d.authzs {
			if a.CertID == certID {
				out = append(out, a)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b acme.Authorization) int { return strings.Compare(a.Identifier, b.Identifier) })
	return out, err
}

// Delegations.

func (m *Memory) CreateDelegation(ctx context.Context, dl *delegation.Delegation) error {
	return m.write(ctx, func(d *memData) error {
		for _, existing := range d.delegations {
			if existing.Label == dl.Label {
				return delegation.ErrRecordExists
			}
		}
		dl.ID = d.next()
		cp := *dl
		d.delegations[dl.ID] = &cp
		return nil
	})
}

func (m *Memory) GetDelegationByLabel(_ context.Context, label string) (*delegation.Delegation, error) {
	var out *delegation.Delegation
	err := m.read(func(d *memData) error {
		for _, dl := range d.delegations {
			if dl.Label == label {
				cp := *dl
				out = &cp
				return nil
			}
		}
		return delegation.ErrNotFound
	})
	return out, err
}

func (m *Memory) FindDelegations(_ context.Context, userID int64, prefix string, zones []string) ([]delegation.Delegation, error) {
	var out []delegation.Delegation
	err := m.read(func(d *memData) error {
		for _, dl := range d.delegations {
			if dl.UserID == userID && dl.Prefix == prefix && slices.Contains(zones, dl.Zone) {
				out = append(out, *dl)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b delegation.Delegation) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (m *Memory) ListDelegations(_ context.Context) ([]delegation.Delegation, error) {
	var out []delegation.Delegation
	err := m.read(func(d *memData) error {
		for _, dl := range d.delegations {
			out = append(out, *dl)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b delegation.Delegation) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (m *Memory) UpdateDelegationHealth(ctx context.Context, dl *delegation.Delegation) error {
	return m.write(ctx, func(d *memData) error {
		cur, ok := d.delegations[dl.ID]
		if !ok {
			return delegation.ErrNotFound
		}
		cur.Valid = dl.Valid
		cur.FailCount = dl.FailCount
		cur.LastError = dl.LastError
		cur.CheckedAt = dl.CheckedAt
		cur.UpdatedAt = dl.UpdatedAt
		return nil
	})
}

func (m *Memory) DeleteDelegation(ctx context.Context, id int64) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.delegations[id]; !ok {
			return delegation.ErrNotFound
		}
		delete(d.delegations, id)
		return nil
	})
}

// DelegationReferenced reports whether a live cert of the delegation's user
// wrote through it or names an identifier under its zone.
func (m *Memory) DelegationReferenced(_ context.Context, dl delegation.Delegation) (bool, error) {
	var found bool
	err := m.read(func(d *memData) error {
		for _, c := range d.certs {
			o, ok := d.orders[c.OrderID]
			if !ok || o.UserID != dl.UserID || c.Status.Terminal() {
				continue
			}
			if referencesDelegation(c, dl) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func referencesDelegation(c *fulfillment.Cert, dl delegation.Delegation) bool {
	for _, v := range c.Validation {
		if v.DelegationID == dl.ID {
			return true
		}
	}
	for _, id := range c.Identifiers {
		id = strings.TrimPrefix(id, "*.")
		if id == dl.Zone || strings.HasSuffix(id, "."+dl.Zone) {
			return true
		}
	}
	return false
}

var (
	_ fulfillment.Store     = (*Memory)(nil)
	_ acme.Repository       = (*Memory)(nil)
	_ delegation.Repository = (*Memory)(nil)
)
