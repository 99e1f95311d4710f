// Package reconcile brings the directory entries owned by one card in line
// with the card's latest state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const defaultConcurrency = 4

// Plan is the minimal set of index operations for one card.
type Plan struct {
	Add    []storage.Contact
	Update []storage.Contact
	Delete []string
}

func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Diff compares the entries a card currently owns with its new contacts.
// Addresses present on both sides are updated only when identifier or
// display name changed.
func Diff(old []*storage.Entry, next []storage.Contact) Plan {
	oldBy := make(map[string]*storage.Entry, len(old))
	for _, e := range old {
		oldBy[storage.NormalizeAddress(e.Address)] = e
	}
	nextBy := make(map[string]storage.Contact, len(next))
	for _, c := range next {
		c.Address = storage.NormalizeAddress(c.Address)
		nextBy[c.Address] = c
	}

	var p Plan
	for addr, c := range nextBy {
		o, ok := oldBy[addr]
		switch {
		case !ok:
			p.Add = append(p.Add, c)
		case o.Identifier != c.Identifier || (c.DisplayName != "" && o.DisplayName != c.DisplayName):
			p.Update = append(p.Update, c)
		}
	}
	for addr := range oldBy {
		if _, ok := nextBy[addr]; !ok {
			p.Delete = append(p.Delete, addr)
		}
	}
	sort.Slice(p.Add, func(i, j int) bool { return p.Add[i].Address < p.Add[j].Address })
	sort.Slice(p.Update, func(i, j int) bool { return p.Update[i].Address < p.Update[j].Address })
	sort.Strings(p.Delete)
	return p
}

type Reconciler struct {
	index       storage.Index
	logger      zerolog.Logger
	concurrency int
}

func New(index storage.Index, logger zerolog.Logger, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Reconciler{
		index:       index,
		logger:      logger.With().Str("component", "reconciler").Logger(),
		concurrency: concurrency,
	}
}

// Apply replaces the entries owned by cardUID with contacts. All operations
// run concurrently; the call fails if any of them failed.
func (r *Reconciler) Apply(ctx context.Context, account storage.AccountRef, cardUID string, contacts []storage.Contact) (Plan, error) {
	old, err := r.index.List(ctx, account, storage.ListOptions{CardUID: cardUID})
	if err != nil {
		return Plan{}, fmt.Errorf("list entries of card %s: %w", cardUID, err)
	}
	plan := Diff(old, contacts)
	if plan.Empty() {
		return plan, nil
	}

	r.logger.Debug().
		Str("account", account.String()).
		Str("card_uid", cardUID).
		Int("add", len(plan.Add)).
		Int("update", len(plan.Update)).
		Int("delete", len(plan.Delete)).
		Msg("applying card reconciliation")

	var ops []func(context.Context) error
	for _, c := range plan.Add {
		ops = append(ops, func(ctx context.Context) error {
			return wrap("index", c.Address, r.index.Index(ctx, account, c, cardUID))
		})
	}
	for _, c := range plan.Update {
		ops = append(ops, func(ctx context.Context) error {
			err := r.index.Update(ctx, account, c, cardUID)
			if errors.Is(err, storage.ErrNotFound) {
				// The entry vanished since listing; indexing restores it.
				err = r.index.Index(ctx, account, c, cardUID)
			}
			return wrap("update", c.Address, err)
		})
	}
	for _, addr := range plan.Delete {
		ops = append(ops, func(ctx context.Context) error {
			return wrap("delete", addr, r.index.Delete(ctx, account, addr, cardUID))
		})
	}
	return plan, r.run(ctx, ops)
}

// DeleteCard removes the given addresses from cardUID. With no addresses it
// removes everything the card owns.
func (r *Reconciler) DeleteCard(ctx context.Context, account storage.AccountRef, cardUID string, addresses []string) error {
	if len(addresses) == 0 {
		old, err := r.index.List(ctx, account, storage.ListOptions{CardUID: cardUID})
		if err != nil {
			return fmt.Errorf("list entries of card %s: %w", cardUID, err)
		}
		for _, e := range old {
			addresses = append(addresses, e.Address)
		}
	}
	ops := make([]func(context.Context) error, 0, len(addresses))
	for _, addr := range addresses {
		ops = append(ops, func(ctx context.Context) error {
			return wrap("delete", addr, r.index.Delete(ctx, account, addr, cardUID))
		})
	}
	return r.run(ctx, ops)
}

// run executes every op with bounded parallelism. A failing op does not
// cancel its siblings; all errors are joined.
func (r *Reconciler) run(ctx context.Context, ops []func(context.Context) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.concurrency)
	for _, op := range ops {
		g.Go(func() error {
			if err := op(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func wrap(op, address string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, address, err)
}
