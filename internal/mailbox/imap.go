package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/extract"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const fetchBatch = 500

// IMAPStore reads sent folders over IMAP, logging in as an admin user
// authorised to act on behalf of every account.
type IMAPStore struct {
	cfg    config.IMAPConfig
	logger zerolog.Logger
}

func NewIMAPStore(cfg config.IMAPConfig, logger zerolog.Logger) *IMAPStore {
	return &IMAPStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "imap").Logger(),
	}
}

func (s *IMAPStore) connect(account storage.AccountRef) (*imapclient.Client, error) {
	opts := &imapclient.Options{}
	var (
		c   *imapclient.Client
		err error
	)
	switch s.cfg.Security {
	case "tls":
		opts.TLSConfig = s.tlsConfig()
		c, err = imapclient.DialTLS(s.cfg.Addr, opts)
	case "starttls":
		opts.TLSConfig = s.tlsConfig()
		c, err = imapclient.DialStartTLS(s.cfg.Addr, opts)
	default:
		c, err = imapclient.DialInsecure(s.cfg.Addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", s.cfg.Addr, err)
	}

	// PLAIN with an authorization identity: the admin authenticates and the
	// session belongs to the account.
	auth := sasl.NewPlainClient(account.String(), s.cfg.AdminUser, s.cfg.AdminPassword)
	if err := c.Authenticate(auth); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("authenticating as %s for %s: %w", s.cfg.AdminUser, account, err)
	}
	return c, nil
}

func (s *IMAPStore) tlsConfig() *tls.Config {
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		host = s.cfg.Addr
	}
	return &tls.Config{ServerName: host}
}

// sentFolder finds the \Sent special-use mailbox, falling back to the
// configured folder name.
func (s *IMAPStore) sentFolder(c *imapclient.Client) (string, error) {
	list, err := c.List("", "*", &imap.ListOptions{ReturnSpecialUse: true}).Collect()
	if err != nil {
		return "", fmt.Errorf("listing mailboxes: %w", err)
	}
	var fallback string
	for _, mb := range list {
		for _, attr := range mb.Attrs {
			if attr == imap.MailboxAttrSent {
				return mb.Mailbox, nil
			}
		}
		if strings.EqualFold(mb.Mailbox, s.cfg.SentFolder) {
			fallback = mb.Mailbox
		}
	}
	if fallback == "" {
		return "", ErrNoSentFolder
	}
	return fallback, nil
}

func (s *IMAPStore) ScanSent(ctx context.Context, account storage.AccountRef, fn func(Message) error) (int, error) {
	c, err := s.connect(account)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Logout().Wait() }()

	folder, err := s.sentFolder(c)
	if err != nil {
		return 0, err
	}
	sel, err := c.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", folder, err)
	}
	if sel.NumMessages == 0 {
		return 0, nil
	}

	search, err := c.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("searching %s: %w", folder, err)
	}
	uids := search.AllUIDs()
	s.logger.Debug().
		Str("account", account.String()).
		Str("folder", folder).
		Int("messages", len(uids)).
		Msg("scanning sent folder")

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: extract.RecipientHeaders,
		Peek:         true,
	}
	opts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	visited := 0
	for start := 0; start < len(uids); start += fetchBatch {
		end := min(start+fetchBatch, len(uids))
		n, err := s.fetch(ctx, c, imap.UIDSetNum(uids[start:end]...), opts, section, fn)
		visited += n
		if err != nil {
			return visited, err
		}
	}
	return visited, nil
}

func (s *IMAPStore) fetch(ctx context.Context, c *imapclient.Client, set imap.UIDSet, opts *imap.FetchOptions, section *imap.FetchItemBodySection, fn func(Message) error) (int, error) {
	cmd := c.Fetch(set, opts)
	defer cmd.Close()

	visited := 0
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return visited, fmt.Errorf("collecting message: %w", err)
		}
		visited++
		if err := fn(Message{UID: uint32(buf.UID), Header: buf.FindBodySection(section)}); err != nil {
			return visited, err
		}
		if err := ctx.Err(); err != nil {
			return visited, err
		}
	}
	if err := cmd.Close(); err != nil {
		return visited, fmt.Errorf("fetching headers: %w", err)
	}
	return visited, nil
}
