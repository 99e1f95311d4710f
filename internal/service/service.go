// Package service assembles the long-lived components both binaries share.
package service

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/directory"
	"github.com/sonroyaalmerol/contactsync/internal/mailbox"
	"github.com/sonroyaalmerol/contactsync/internal/scan"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/internal/storage/memory"
	"github.com/sonroyaalmerol/contactsync/internal/storage/postgres"
	"github.com/sonroyaalmerol/contactsync/internal/storage/sqlite"
)

type Service struct {
	Config    *config.Config
	Index     storage.Index
	Directory *directory.LDAPClient
	Mailbox   mailbox.Store
	Scanner   *scan.Scanner

	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	idx, err := OpenIndex(cfg, logger)
	if err != nil {
		return nil, err
	}

	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		idx.Close()
		return nil, err
	}

	mb := mailbox.NewIMAPStore(cfg.IMAP, logger)
	return &Service{
		Config:    cfg,
		Index:     idx,
		Directory: dir,
		Mailbox:   mb,
		Scanner:   scan.NewScanner(idx, mb, logger),
		logger:    logger,
	}, nil
}

// OpenIndex opens the configured backend behind the retrying decorator.
func OpenIndex(cfg *config.Config, logger zerolog.Logger) (storage.Index, error) {
	var (
		idx storage.Index
		err error
	)
	switch cfg.Storage.Type {
	case "postgres":
		idx, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		idx, err = sqlite.New(cfg.Storage.SQLitePath, cfg.Storage.SQLiteDriver, logger)
	case "memory":
		idx = memory.New()
	default:
		err = fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewRetryingIndex(idx, storage.RetryPolicy{
		MaxRetries:      uint64(max(cfg.Index.RetryMax, 0)),
		InitialInterval: cfg.Index.RetryInitial,
		MaxInterval:     cfg.Index.RetryMaxInterval,
	}, logger), nil
}

// IndexingTask builds a bulk scan over population, or over every directory
// account when population is nil.
func (s *Service) IndexingTask(population scan.Population, usersPerSecond int) *scan.IndexingTask {
	if population == nil {
		population = s.Directory
	}
	if usersPerSecond <= 0 {
		usersPerSecond = s.Config.Scan.UsersPerSecond
	}
	return scan.NewIndexingTask(s.Scanner, population, usersPerSecond, s.Config.Scan.MaxConcurrentUsers, s.logger)
}

func (s *Service) Close() {
	s.Directory.Close()
	s.Index.Close()
}
