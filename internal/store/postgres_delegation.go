package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/acmefront/integration/database/pg"
	"github.com/dmitrymomot/acmefront/internal/delegation"
)

const delegationColumns = `id, user_id, zone, prefix, label, target_fqdn, valid, fail_count,
	last_error, checked_at, created_at, updated_at`

func scanDelegation(row pgx.Row) (delegation.Delegation, error) {
	var d delegation.Delegation
	err := row.Scan(&d.ID, &d.UserID, &d.Zone, &d.Prefix, &d.Label, &d.TargetFQDN, &d.Valid, &d.FailCount,
		&d.LastError, &d.CheckedAt, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (p *Postgres) CreateDelegation(ctx context.Context, d *delegation.Delegation) error {
	const q = `INSERT INTO delegations (user_id, zone, prefix, label, target_fqdn, valid, fail_count,
		last_error, checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := p.conn(ctx).QueryRow(ctx, q, d.UserID, d.Zone, d.Prefix, d.Label, d.TargetFQDN, d.Valid, d.FailCount,
		d.LastError, d.CheckedAt, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	if pg.IsDuplicateKeyError(err) {
		return delegation.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("insert delegation: %w", err)
	}
	return nil
}

func (p *Postgres) GetDelegationByLabel(ctx context.Context, label string) (*delegation.Delegation, error) {
	d, err := scanDelegation(p.conn(ctx).QueryRow(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE label = $1`, label))
	if err != nil {
		return nil, notFound(err, delegation.ErrNotFound)
	}
	return &d, nil
}

func (p *Postgres) FindDelegations(ctx context.Context, userID int64, prefix string, zones []string) ([]delegation.Delegation, error) {
	return p.listDelegations(ctx,
		`SELECT `+delegationColumns+` FROM delegations
		WHERE user_id = $1 AND prefix = $2 AND zone = ANY($3)
		ORDER BY id`, userID, prefix, zones)
}

func (p *Postgres) ListDelegations(ctx context.Context) ([]delegation.Delegation, error) {
	return p.listDelegations(ctx, `SELECT `+delegationColumns+` FROM delegations ORDER BY id`)
}

func (p *Postgres) listDelegations(ctx context.Context, q string, args ...any) ([]delegation.Delegation, error) {
	rows, err := p.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	defer rows.Close()

	var out []delegation.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDelegationHealth(ctx context.Context, d *delegation.Delegation) error {
	tag, err := p.conn(ctx).Exec(ctx,
		`UPDATE delegations SET valid = $2, fail_count = $3, last_error = $4, checked_at = $5, updated_at = $6
		WHERE id = $1`,
		d.ID, d.Valid, d.FailCount, d.LastError, d.CheckedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update delegation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delegation.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteDelegation(ctx context.Context, id int64) error {
	tag, err := p.conn(ctx).Exec(ctx, `DELETE FROM delegations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete delegation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delegation.ErrNotFound
	}
	return nil
}

// DelegationReferenced looks for a non-terminal cert of the delegation's user
// that wrote through it or names an identifier under its zone.
func (p *Postgres) DelegationReferenced(ctx context.Context, d delegation.Delegation) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM certs c
		JOIN orders o ON o.id = c.order_id
		WHERE o.user_id = $1
		  AND c.status NOT IN ('cancelled', 'revoked', 'renewed', 'reissued', 'failed', 'expired')
		  AND (
		    c.validation @> jsonb_build_array(jsonb_build_object('delegation_id', $2::bigint))
		    OR EXISTS (
		      SELECT 1 FROM unnest(c.identifiers) AS id
		      WHERE regexp_replace(id, '^\*\.', '') = $3
		         OR regexp_replace(id, '^\*\.', '') LIKE '%.' || $3
		    )
		  )
	)`
	var found bool
	if err := p.conn(ctx).QueryRow(ctx, q, d.UserID, d.ID, d.Zone).Scan(&found); err != nil {
		return false, fmt.Errorf("delegation references: %w", err)
	}
	return found, nil
}

var _ delegation.Repository = (*Postgres)(nil)
