package sqlite

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrateUp applies pending migrations on db. The migrate instance is left
// open: closing it would close db with it.
func migrateUp(db *sql.DB, logger zerolog.Logger) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	target, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return err
	}

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
