package pg

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrymomot/acmefront/core/logger"
)

// Migrator applies goose SQL migrations from an embedded filesystem.
type Migrator struct {
	provider *goose.Provider
	logger   *slog.Logger
	close    func() error
}

// NewMigrator opens a database/sql handle over pool for goose.
// Call Close when done.
func NewMigrator(pool *pgxpool.Pool, migrations fs.FS, log *slog.Logger) (*Migrator, error) {
	db := stdlib.OpenDBFromPool(pool)

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrFailedToApplyMigrations, err)
	}

	if log == nil {
		log = logger.NewNope()
	}
	return &Migrator{provider: provider, logger: log, close: db.Close}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	for _, r := range results {
		m.logger.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("path", r.Source.Path),
			logger.Duration(r.Duration))
	}
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	r, err := m.provider.Down(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if r != nil {
		m.logger.InfoContext(ctx, "migration rolled back", slog.Int64("version", r.Source.Version))
	}
	return nil
}

// Status logs the state of every known migration.
func (m *Migrator) Status(ctx context.Context) error {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		m.logger.InfoContext(ctx, "migration",
			slog.Int64("version", s.Source.Version),
			slog.String("path", s.Source.Path),
			slog.String("state", string(s.State)))
	}
	return nil
}

func (m *Migrator) Close() error {
	return m.close()
}
