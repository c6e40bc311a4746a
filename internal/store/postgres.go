package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/acmefront/integration/database/pg"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

// Postgres implements the repositories on a pgx pool. Calls made with a
// context from InTx run in that transaction.
type Postgres struct {
	db pg.TxBeginner
}

// NewPostgres wraps db, usually a *pgxpool.Pool.
func NewPostgres(db pg.TxBeginner) *Postgres {
	return &Postgres{db: db}
}

// InTx runs fn in one transaction. Nested calls join it.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.InTx(ctx, p.db, fn)
}

func (p *Postgres) conn(ctx context.Context) pg.Querier {
	return pg.Conn(ctx, p.db)
}

// notFound maps pgx.ErrNoRows to sentinel.
func notFound(err, sentinel error) error {
	if pg.IsNotFoundError(err) {
		return sentinel
	}
	return err
}

// Orders.

const orderColumns = `id, user_id, product_id, period, amount, contact, organization,
	eab_key_id, eab_hmac, eab_used_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*fulfillment.Order, error) {
	var o fulfillment.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Period, &o.Amount, &o.Contact, &o.Organization,
		&o.EABKeyID, &o.EABHMAC, &o.EABUsedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err, fulfillment.ErrNotFound)
	}
	return &o, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, o *fulfillment.Order) error {
	const q = `INSERT INTO orders (user_id, product_id, period, amount, contact, organization,
		eab_key_id, eab_hmac, eab_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := p.conn(ctx).QueryRow(ctx, q, o.UserID, o.ProductID, o.Period, o.Amount, o.Contact, o.Organization,
		o.EABKeyID, o.EABHMAC, o.EABUsedAt, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (*fulfillment.Order, error) {
	return scanOrder(p.conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// LockOrder selects the order FOR UPDATE; call it inside InTx.
func (p *Postgres) LockOrder(ctx context.Context, id int64) (*fulfillment.Order, error) {
	return scanOrder(p.conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (p *Postgres) GetOrderByEABKeyID(ctx context.Context, keyID string) (*fulfillment.Order, error) {
	return scanOrder(p.conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE eab_key_id = $1`, keyID))
}

func (p *Postgres) UpdateOrder(ctx context.Context, o *fulfillment.Order) error {
	const q = `UPDATE orders SET period = $2, amount = $3, contact = $4, organization = $5,
		eab_used_at = $6, updated_at = $7
		WHERE id = $1`
	tag, err := p.conn(ctx).Exec(ctx, q, o.ID, o.Period, o.Amount, o.Contact, o.Organization, o.EABUsedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrNotFound
	}
	return nil
}

// DeleteOrder cascades to certs, authorizations and accounts.
func (p *Postgres) DeleteOrder(ctx context.Context, id int64) error {
	tag, err := p.conn(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrNotFound
	}
	return nil
}

// Certs.

const certColumns = `id, order_id, COALESCE(last_cert_id, 0), action, channel, status, prev_status,
	vendor, vendor_id, dcv_method, validation, identifiers, csr, cert_pem, chain_pem,
	issuer, serial, not_before, not_after, COALESCE(token, ''), amount, created_at, updated_at`

func scanCert(row pgx.Row) (*fulfillment.Cert, error) {
	var (
		c          fulfillment.Cert
		validation []byte
	)
	err := row.Scan(&c.ID, &c.OrderID, &c.LastCertID, &c.Action, &c.Channel, &c.Status, &c.PrevStatus,
		&c.Vendor, &c.VendorID, &c.DCVMethod, &validation, &c.Identifiers, &c.CSR, &c.CertPEM, &c.ChainPEM,
		&c.Issuer, &c.Serial, &c.NotBefore, &c.NotAfter, &c.Token, &c.Amount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, fulfillment.ErrNotFound)
	}
	if len(validation) > 0 {
		if err := json.Unmarshal(validation, &c.Validation); err != nil {
			return nil, fmt.Errorf("decode cert %d validation: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeValidation(v []fulfillment.Validation) ([]byte, error) {
	if v == nil {
		v = []fulfillment.Validation{}
	}
	return json.Marshal(v)
}

func (p *Postgres) CreateCert(ctx context.Context, c *fulfillment.Cert) error {
	validation, err := encodeValidation(c.Validation)
	if err != nil {
		return err
	}
	const q = `INSERT INTO certs (order_id, last_cert_id, action, channel, status, prev_status,
		vendor, vendor_id, dcv_method, validation, identifiers, csr, cert_pem, chain_pem,
		issuer, serial, not_before, not_after, token, amount, created_at, updated_at)
		VALUES ($1, NULLIF($2::bigint, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, NULLIF($19, ''), $20, $21, $22)
		RETURNING id`
	err = p.conn(ctx).QueryRow(ctx, q, c.OrderID, c.LastCertID, c.Action, c.Channel, c.Status, c.PrevStatus,
		c.Vendor, c.VendorID, c.DCVMethod, validation, identifiers(c.Identifiers), c.CSR, c.CertPEM, c.ChainPEM,
		c.Issuer, c.Serial, c.NotBefore, c.NotAfter, c.Token, c.Amount, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if pg.IsForeignKeyViolationError(err) {
		return fulfillment.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert cert: %w", err)
	}
	return nil
}

func identifiers(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func (p *Postgres) GetCert(ctx context.Context, id int64) (*fulfillment.Cert, error) {
	return scanCert(p.conn(ctx).QueryRow(ctx, `SELECT `+certColumns+` FROM certs WHERE id = $1`, id))
}

func (p *Postgres) GetLatestCert(ctx context.Context, orderID int64) (*fulfillment.Cert, error) {
	return scanCert(p.conn(ctx).QueryRow(ctx,
		`SELECT `+certColumns+` FROM certs WHERE order_id = $1 ORDER BY id DESC LIMIT 1`, orderID))
}

func (p *Postgres) GetCertByToken(ctx context.Context, token string) (*fulfillment.Cert, error) {
	if token == "" {
		return nil, fulfillment.ErrNotFound
	}
	return scanCert(p.conn(ctx).QueryRow(ctx, `SELECT `+certColumns+` FROM certs WHERE token = $1`, token))
}

func (p *Postgres) GetCertBySerial(ctx context.Context, serial string) (*fulfillment.Cert, error) {
	if serial == "" {
		return nil, fulfillment.ErrNotFound
	}
	return scanCert(p.conn(ctx).QueryRow(ctx,
		`SELECT `+certColumns+` FROM certs WHERE lower(serial) = lower($1) ORDER BY id DESC LIMIT 1`, serial))
}

func (p *Postgres) UpdateCert(ctx context.Context, c *fulfillment.Cert) error {
	validation, err := encodeValidation(c.Validation)
	if err != nil {
		return err
	}
	const q = `UPDATE certs SET channel = $2, status = $3, prev_status = $4, vendor = $5, vendor_id = $6,
		dcv_method = $7, validation = $8, identifiers = $9, csr = $10, cert_pem = $11, chain_pem = $12,
		issuer = $13, serial = $14, not_before = $15, not_after = $16, token = NULLIF($17, ''),
		updated_at = $18
		WHERE id = $1`
	tag, err := p.conn(ctx).Exec(ctx, q, c.ID, c.Channel, c.Status, c.PrevStatus, c.Vendor, c.VendorID,
		c.DCVMethod, validation, identifiers(c.Identifiers), c.CSR, c.CertPEM, c.ChainPEM,
		c.Issuer, c.Serial, c.NotBefore, c.NotAfter, c.Token, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update cert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteCert(ctx context.Context, id int64) error {
	tag, err := p.conn(ctx).Exec(ctx, `DELETE FROM certs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrNotFound
	}
	return nil
}

// Intermediates.

// UpsertIntermediate keeps the first PEM stored for a subject.
func (p *Postgres) UpsertIntermediate(ctx context.Context, im fulfillment.Intermediate) error {
	_, err := p.conn(ctx).Exec(ctx,
		`INSERT INTO intermediates (subject, pem, created_at) VALUES ($1, $2, $3) ON CONFLICT (subject) DO NOTHING`,
		im.Subject, im.PEM, im.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert intermediate: %w", err)
	}
	return nil
}

func (p *Postgres) GetIntermediate(ctx context.Context, subject string) (*fulfillment.Intermediate, error) {
	var im fulfillment.Intermediate
	err := p.conn(ctx).QueryRow(ctx,
		`SELECT subject, pem, created_at FROM intermediates WHERE subject = $1`, subject).
		Scan(&im.Subject, &im.PEM, &im.CreatedAt)
	if err != nil {
		return nil, notFound(err, fulfillment.ErrNotFound)
	}
	return &im, nil
}

var _ fulfillment.Store = (*Postgres)(nil)
