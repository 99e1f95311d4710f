package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const connectTimeout = 10 * time.Second

var _ storage.Index = (*Store)(nil)

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(dsn string, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "postgres").Logger()
	if err := migrateUp(dsn, logger); err != nil {
		return nil, fmt.Errorf("migrate contacts schema: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Unavailable(fmt.Errorf("ping: %w", err))
	}
	return &Store{pool: pool, logger: logger}, nil
}

// migrateUp applies pending migrations. A dirty schema is forced back to its
// recorded version first so a crashed migration is retried.
func migrateUp(dsn string, logger zerolog.Logger) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if dirty {
		logger.Warn().Uint("version", from).Msg("schema is dirty, forcing recorded version")
		if err := m.Force(int(from)); err != nil {
			return err
		}
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug().Uint("version", from).Msg("schema up to date")
	case err != nil:
		return err
	default:
		to, _, _ := m.Version()
		logger.Info().Uint("from_version", from).Uint("to_version", to).Msg("schema migrated")
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

// classify maps driver errors onto the index error taxonomy. Connection-level
// failures and server-side resource/shutdown conditions are transient;
// everything the server refuses on its merits is permanent.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"),
			pgErr.Code == "40001", pgErr.Code == "40P01":
			return storage.Unavailable(err)
		default:
			return storage.Rejected(err)
		}
	}
	return storage.Unavailable(err)
}
