package scan

import (
	"context"
	"iter"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const TaskType = "ContactIndexing"

// Population enumerates the accounts a bulk run visits.
type Population interface {
	ListAccounts(ctx context.Context) iter.Seq2[storage.AccountRef, error]
}

// Fixed is a Population with a known set of accounts.
type Fixed []storage.AccountRef

func (f Fixed) ListAccounts(context.Context) iter.Seq2[storage.AccountRef, error] {
	return batch.Users(f...)
}

type RunningOptions struct {
	UsersPerSecond int `json:"usersPerSecond"`
}

// Details is what a status query reports about an indexing run.
type Details struct {
	ProcessedUsersCount  int64          `json:"processedUsersCount"`
	IndexedContactsCount int64          `json:"indexedContactsCount"`
	FailedContactsCount  int64          `json:"failedContactsCount"`
	FailedUsers          []string       `json:"failedUsers"`
	RunningOptions       RunningOptions `json:"runningOptions"`
}

// IndexingTask scans every account of a population at a bounded rate.
type IndexingTask struct {
	scanner    *Scanner
	population Population
	runner     *batch.Runner
}

func NewIndexingTask(scanner *Scanner, population Population, usersPerSecond, concurrency int, logger zerolog.Logger) *IndexingTask {
	return &IndexingTask{
		scanner:    scanner,
		population: population,
		runner:     batch.NewRunner(usersPerSecond, concurrency, logger.With().Str("task", TaskType).Logger()),
	}
}

func (t *IndexingTask) Type() string { return TaskType }

func (t *IndexingTask) Run(ctx context.Context) batch.Result {
	return t.runner.Run(ctx, t.population.ListAccounts(ctx), t.scanner.ScanAccount)
}

func (t *IndexingTask) Details() any { return t.Snapshot() }

func (t *IndexingTask) Snapshot() Details {
	snap := t.runner.Progress().Snapshot()
	failed := snap.FailedUsers
	if failed == nil {
		failed = []string{}
	}
	return Details{
		ProcessedUsersCount:  snap.ProcessedUsers,
		IndexedContactsCount: snap.Items,
		FailedContactsCount:  snap.FailedItems,
		FailedUsers:          failed,
		RunningOptions:       RunningOptions{UsersPerSecond: t.runner.UsersPerSecond()},
	}
}
