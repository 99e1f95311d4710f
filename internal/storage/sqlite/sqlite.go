package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const (
	// DriverModernc is the pure Go transpiled SQLite.
	DriverModernc = "sqlite"
	// DriverNcruces is the wasm build of SQLite.
	DriverNcruces = "sqlite3"
)

var _ storage.Index = (*Store)(nil)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// pragmas run on the single connection before migrating.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

func New(dsn, driverName string, logger zerolog.Logger) (*Store, error) {
	if driverName == "" {
		driverName = DriverModernc
	}
	if driverName != DriverModernc && driverName != DriverNcruces {
		return nil, fmt.Errorf("unknown sqlite driver: %s", driverName)
	}
	logger = logger.With().Str("component", "sqlite").Str("driver", driverName).Logger()

	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := setup(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func setup(db *sql.DB, logger zerolog.Logger) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrateUp(db, logger); err != nil {
		return fmt.Errorf("migrate contacts schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return storage.Unavailable(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return storage.Unavailable(err)
	}
	return storage.Rejected(err)
}
