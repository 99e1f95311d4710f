// Package consumer applies groupware change notifications to the contact
// directory.
package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sonroyaalmerol/contactsync/internal/broker"
	"github.com/sonroyaalmerol/contactsync/internal/message"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
	"github.com/sonroyaalmerol/contactsync/internal/reconcile"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

// AccountResolver maps a groupware user id to the owning directory account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, externalID string) (storage.AccountRef, error)
}

type Consumer struct {
	reconciler *reconcile.Reconciler
	resolver   AccountResolver
	slots      *semaphore.Weighted
	cards      *serializer
	inflight   sync.WaitGroup
	logger     zerolog.Logger
}

// New returns a consumer handling at most concurrency messages at once.
func New(rec *reconcile.Reconciler, resolver AccountResolver, concurrency int, logger zerolog.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		reconciler: rec,
		resolver:   resolver,
		slots:      semaphore.NewWeighted(int64(concurrency)),
		cards:      newSerializer(),
		logger:     logger.With().Str("component", "consumer").Logger(),
	}
}

// Consume handles deliveries of one kind until the channel closes or ctx is
// done. Messages for the same card are applied in delivery order; messages for
// different cards run in parallel.
func (c *Consumer) Consume(ctx context.Context, kind message.Kind, deliveries <-chan broker.Message) {
	for {
		var d broker.Message
		var ok bool
		select {
		case <-ctx.Done():
			return
		case d, ok = <-deliveries:
			if !ok {
				return
			}
		}

		change, err := message.Decode(kind, d.Body())
		if err != nil {
			c.logger.Error().Err(err).Str("kind", kind.String()).Msg("rejecting undecodable message")
			c.settle(kind, d, err)
			continue
		}
		if change == nil {
			c.logger.Debug().Str("kind", kind.String()).Msg("message carries no card, acknowledging")
			c.settle(kind, d, nil)
			continue
		}

		// A slot is taken only once the card's turn comes. Broker prefetch
		// bounds the goroutines waiting here.
		wait, leave := c.cards.enter(change.Owner() + "/" + change.CardUID())
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			defer leave()
			if wait != nil {
				<-wait
			}
			if err := c.slots.Acquire(ctx, 1); err != nil {
				// Unacknowledged; the broker redelivers it.
				return
			}
			defer c.slots.Release(1)
			// Shutdown must not abort a half-applied card.
			c.settle(kind, d, c.Handle(context.WithoutCancel(ctx), change))
		}()
	}
}

// Wait blocks until every message already taken has been settled.
func (c *Consumer) Wait() { c.inflight.Wait() }

// Handle resolves the owner of a change and applies it.
func (c *Consumer) Handle(ctx context.Context, change message.Change) error {
	log := c.logger.With().Str("owner", change.Owner()).Str("card_uid", change.CardUID()).Logger()

	account, err := c.resolver.ResolveAccount(ctx, change.Owner())
	if err != nil {
		log.Error().Err(err).Msg("cannot resolve owner account")
		return fmt.Errorf("resolve owner %s: %w", change.Owner(), err)
	}
	if err := c.Apply(ctx, account, change); err != nil {
		log.Error().Err(err).Str("account", account.String()).Msg("failed to apply change")
		return err
	}
	log.Debug().Str("account", account.String()).Msg("change applied")
	return nil
}

// Apply is the single dispatch point for change variants.
func (c *Consumer) Apply(ctx context.Context, account storage.AccountRef, change message.Change) error {
	switch ch := change.(type) {
	case message.Added:
		_, err := c.reconciler.Apply(ctx, account, ch.Card.UID, ch.Card.Contacts)
		return err
	case message.Updated:
		_, err := c.reconciler.Apply(ctx, account, ch.Card.UID, ch.Card.Contacts)
		return err
	case message.Deleted:
		return c.reconciler.DeleteCard(ctx, account, ch.UID, ch.Addresses)
	default:
		return fmt.Errorf("unhandled change %T", change)
	}
}

// settle acknowledges on success and rejects otherwise. Rejected messages
// are dead-lettered, never requeued.
func (c *Consumer) settle(kind message.Kind, d broker.Message, err error) {
	var serr error
	if err == nil {
		serr = d.Ack()
		metrics.ChangesSettled.WithLabelValues(kind.String(), "ack").Inc()
	} else {
		serr = d.Reject()
		metrics.ChangesSettled.WithLabelValues(kind.String(), "reject").Inc()
	}
	if serr != nil {
		c.logger.Warn().Err(serr).Bool("ack", err == nil).Msg("failed to settle delivery")
	}
}

// serializer orders work sharing a key. Each entrant waits for the one
// before it.
type serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newSerializer() *serializer {
	return &serializer{tails: make(map[string]chan struct{})}
}

func (s *serializer) enter(key string) (wait <-chan struct{}, leave func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tails[key]
	mine := make(chan struct{})
	s.tails[key] = mine
	return prev, func() {
		s.mu.Lock()
		if s.tails[key] == mine {
			delete(s.tails, key)
		}
		s.mu.Unlock()
		close(mine)
	}
}
