package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/acmefront/integration/database/pg"
	"github.com/dmitrymomot/acmefront/internal/acme"
)

const accountColumns = `key_id, jwk, status, contact, order_id, user_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*acme.Account, error) {
	var (
		a   acme.Account
		jwk []byte
	)
	err := row.Scan(&a.KeyID, &jwk, &a.Status, &a.Contact, &a.OrderID, &a.UserID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, acme.ErrNotFound)
	}
	a.Key = new(jose.JSONWebKey)
	if err := a.Key.UnmarshalJSON(jwk); err != nil {
		return nil, fmt.Errorf("decode account %s key: %w", a.KeyID, err)
	}
	return &a, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, a *acme.Account) error {
	jwk, err := json.Marshal(a.Key)
	if err != nil {
		return fmt.Errorf("encode account key: %w", err)
	}
	contact := a.Contact
	if contact == nil {
		contact = []string{}
	}
	_, err = p.conn(ctx).Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.KeyID, jwk, a.Status, contact, a.OrderID, a.UserID, a.CreatedAt, a.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return acme.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, keyID string) (*acme.Account, error) {
	return scanAccount(p.conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE key_id = $1`, keyID))
}

func (p *Postgres) UpdateAccount(ctx context.Context, a *acme.Account) error {
	contact := a.Contact
	if contact == nil {
		contact = []string{}
	}
	tag, err := p.conn(ctx).Exec(ctx,
		`UPDATE accounts SET status = $2, contact = $3, updated_at = $4 WHERE key_id = $1`,
		a.KeyID, a.Status, contact, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return acme.ErrNotFound
	}
	return nil
}

const authzColumns = `token, cert_id, identifier, wildcard, challenge_token, challenge_type, created_at`

func (p *Postgres) CreateAuthorizations(ctx context.Context, authzs []acme.Authorization) error {
	if len(authzs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range authzs {
		batch.Queue(`INSERT INTO authorizations (`+authzColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.Token, a.CertID, a.Identifier, a.Wildcard, a.ChallengeToken, a.ChallengeType, a.CreatedAt)
	}
	return p.InTx(ctx, func(ctx context.Context) error {
		tx, _ := pg.TxFromContext(ctx)
		br := tx.SendBatch(ctx, batch)
		for range authzs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert authorization: %w", err)
			}
		}
		return br.Close()
	})
}

func scanAuthorization(row pgx.Row) (acme.Authorization, error) {
	var a acme.Authorization
	err := row.Scan(&a.Token, &a.CertID, &a.Identifier, &a.Wildcard, &a.ChallengeToken, &a.ChallengeType, &a.CreatedAt)
	return a, err
}

func (p *Postgres) GetAuthorization(ctx context.Context, token string) (*acme.Authorization, error) {
	a, err := scanAuthorization(p.conn(ctx).QueryRow(ctx,
		`SELECT `+authzColumns+` FROM authorizations WHERE token = $1`, token))
	if err != nil {
		return nil, notFound(err, acme.ErrNotFound)
	}
	return &a, nil
}

func (p *Postgres) ListAuthorizations(ctx context.Context, certID int64) ([]acme.Authorization, error) {
	rows, err := p.conn(ctx).Query(ctx,
		`SELECT `+authzColumns+` FROM authorizations WHERE cert_id = $1 ORDER BY identifier`, certID)
	if err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	defer rows.Close()

	var out []acme.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorization: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ acme.Repository = (*Postgres)(nil)
