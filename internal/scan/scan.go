// Package scan rebuilds contact directories from each account's sent mail.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
	"github.com/sonroyaalmerol/contactsync/internal/dedup"
	"github.com/sonroyaalmerol/contactsync/internal/extract"
	"github.com/sonroyaalmerol/contactsync/internal/mailbox"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

type Scanner struct {
	index   storage.Index
	mailbox mailbox.Store
	logger  zerolog.Logger
}

func NewScanner(index storage.Index, mb mailbox.Store, logger zerolog.Logger) *Scanner {
	return &Scanner{
		index:   index,
		mailbox: mb,
		logger:  logger.With().Str("component", "scanner").Logger(),
	}
}

// ScanAccount indexes every recipient of the account's sent mail that the
// directory does not already hold. It has the shape of a batch.Op.
//
// The dedup filter is seeded when the first sent message arrives and dropped
// on return. It reflects the directory at seeding time only.
func (s *Scanner) ScanAccount(ctx context.Context, account storage.AccountRef, p *batch.Progress) (batch.Result, error) {
	log := s.logger.With().Str("account", account.String()).Logger()

	var filter *dedup.Filter
	result := batch.Completed
	n, err := s.mailbox.ScanSent(ctx, account, func(msg mailbox.Message) error {
		if filter == nil {
			f, err := dedup.Seed(ctx, s.index, account, dedup.NewSalt())
			if err != nil {
				return err
			}
			filter = f
		}
		contacts, err := extract.Recipients(msg.Header, account)
		if err != nil {
			log.Debug().Err(err).Uint32("uid", msg.UID).Msg("skipping unparseable recipient header")
		}
		for _, c := range contacts {
			if filter.MightContain(c.Address) {
				metrics.MinedContacts.WithLabelValues("known").Inc()
				continue
			}
			if err := s.index.Index(ctx, account, c, ""); err != nil {
				log.Warn().Err(err).Str("address", c.Address).Msg("failed to index mined contact")
				p.AddFailedItem()
				metrics.MinedContacts.WithLabelValues("failed").Inc()
				result = batch.Partial
				continue
			}
			filter.Add(c.Address)
			p.AddItem()
			metrics.MinedContacts.WithLabelValues("indexed").Inc()
		}
		return nil
	})
	switch {
	case errors.Is(err, mailbox.ErrNoSentFolder):
		log.Debug().Msg("no sent folder, nothing to scan")
		return batch.Completed, nil
	case err != nil:
		return batch.Partial, fmt.Errorf("scan sent folder of %s: %w", account, err)
	}
	log.Debug().Int("messages", n).Str("result", result.String()).Msg("account scanned")
	return result, nil
}
