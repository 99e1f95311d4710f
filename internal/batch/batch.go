// Package batch drives a per-user operation across a whole user population at
// a bounded rate, accounting for each user's outcome.
package batch

import (
	"context"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/contactsync/internal/metrics"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

type Result int

const (
	Completed Result = iota
	Partial
)

func (r Result) String() string {
	if r == Completed {
		return "completed"
	}
	return "partial"
}

// Combine is Completed only when both sides are.
func (r Result) Combine(o Result) Result {
	if r == Completed && o == Completed {
		return Completed
	}
	return Partial
}

// Progress is shared by every worker of one run.
type Progress struct {
	processedUsers atomic.Int64
	items          atomic.Int64
	failedItems    atomic.Int64

	mu          sync.Mutex
	failedUsers []string
}

type Snapshot struct {
	ProcessedUsers int64
	Items          int64
	FailedItems    int64
	FailedUsers    []string
}

func (p *Progress) AddItem()       { p.items.Add(1) }
func (p *Progress) AddFailedItem() { p.failedItems.Add(1) }

func (p *Progress) userProcessed() { p.processedUsers.Add(1) }

func (p *Progress) userFailed(user string) {
	p.mu.Lock()
	p.failedUsers = append(p.failedUsers, user)
	p.mu.Unlock()
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	failed := slices.Clone(p.failedUsers)
	p.mu.Unlock()
	slices.Sort(failed)
	return Snapshot{
		ProcessedUsers: p.processedUsers.Load(),
		Items:          p.items.Load(),
		FailedItems:    p.failedItems.Load(),
		FailedUsers:    failed,
	}
}

// Op processes one user. A non-nil error marks the user failed; Partial
// without an error means some of the user's items failed.
type Op func(ctx context.Context, user storage.AccountRef, p *Progress) (Result, error)

type Runner struct {
	usersPerSecond int
	concurrency    int
	progress       *Progress
	logger         zerolog.Logger
}

// NewRunner returns a runner dispatching at most usersPerSecond users per
// second with at most concurrency users in flight.
func NewRunner(usersPerSecond, concurrency int, logger zerolog.Logger) *Runner {
	if usersPerSecond <= 0 {
		usersPerSecond = 1
	}
	if concurrency <= 0 {
		concurrency = usersPerSecond
	}
	return &Runner{
		usersPerSecond: usersPerSecond,
		concurrency:    concurrency,
		progress:       &Progress{},
		logger:         logger.With().Str("component", "batch").Logger(),
	}
}

func (r *Runner) UsersPerSecond() int { return r.usersPerSecond }

func (r *Runner) Progress() *Progress { return r.progress }

// Run calls op for every user. Cancelling ctx stops dispatch between users;
// users already started run to completion. An error while enumerating users
// stops the run and makes it Partial.
func (r *Runner) Run(ctx context.Context, users iter.Seq2[storage.AccountRef, error], op Op) Result {
	limiter := rate.NewLimiter(rate.Limit(r.usersPerSecond), 1)

	var (
		g      errgroup.Group
		mu     sync.Mutex
		result = Completed
	)
	combine := func(o Result) {
		mu.Lock()
		result = result.Combine(o)
		mu.Unlock()
	}
	g.SetLimit(r.concurrency)

	for user, err := range users {
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to enumerate users, aborting run")
			combine(Partial)
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			r.logger.Info().Err(err).Msg("run cancelled")
			combine(Partial)
			break
		}
		g.Go(func() error {
			combine(r.runUser(context.WithoutCancel(ctx), user, op))
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		combine(Partial)
	}
	snap := r.progress.Snapshot()
	r.logger.Info().
		Str("result", result.String()).
		Int64("processed_users", snap.ProcessedUsers).
		Int64("items", snap.Items).
		Int64("failed_items", snap.FailedItems).
		Int("failed_users", len(snap.FailedUsers)).
		Msg("run finished")
	return result
}

func (r *Runner) runUser(ctx context.Context, user storage.AccountRef, op Op) (res Result) {
	defer r.progress.userProcessed()
	defer func() { metrics.ScannedUsers.WithLabelValues(res.String()).Inc() }()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("user", user.String()).Interface("panic", p).Msg("user operation panicked")
			r.progress.userFailed(user.String())
			res = Partial
		}
	}()

	res, err := op(ctx, user, r.progress)
	if err != nil {
		r.logger.Warn().Err(err).Str("user", user.String()).Msg("user operation failed")
		r.progress.userFailed(user.String())
		return Partial
	}
	return res
}

// Users adapts a fixed list to the user stream Run consumes.
func Users(users ...storage.AccountRef) iter.Seq2[storage.AccountRef, error] {
	return func(yield func(storage.AccountRef, error) bool) {
		for _, u := range users {
			if !yield(u, nil) {
				return
			}
		}
	}
}
