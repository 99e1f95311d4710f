package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/logging"
	"github.com/sonroyaalmerol/contactsync/internal/scan"
	"github.com/sonroyaalmerol/contactsync/internal/service"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

type accountList []storage.AccountRef

func (a *accountList) String() string {
	parts := make([]string, len(*a))
	for i, acc := range *a {
		parts[i] = acc.String()
	}
	return strings.Join(parts, ",")
}

func (a *accountList) Set(v string) error {
	acc, err := storage.NewAccountRef(v)
	if err != nil {
		return err
	}
	*a = append(*a, acc)
	return nil
}

func main() {
	var (
		usersPerSecond = flag.Int("users-per-second", 0, "accounts started per second (default SCAN_USERS_PER_SECOND)")
		accounts       accountList
	)
	flag.Var(&accounts, "account", "restrict the scan to this account (repeatable)")
	flag.Parse()

	if *usersPerSecond < 0 {
		fmt.Fprintln(os.Stderr, "-users-per-second must be positive")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("service init failed")
	}
	defer svc.Close()

	var population scan.Population
	if len(accounts) > 0 {
		population = scan.Fixed(accounts)
	}
	t := svc.IndexingTask(population, *usersPerSecond)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := t.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("failed to print details")
	}
	logger.Info().Str("result", res.String()).Msg("scan finished")
	if res != batch.Completed {
		svc.Close()
		os.Exit(1)
	}
}
