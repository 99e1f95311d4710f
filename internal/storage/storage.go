package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("contact not found")
	// ErrUnavailable marks transient backend failures. Callers may retry.
	ErrUnavailable = errors.New("directory index unavailable")
	// ErrRejected marks permanent refusals. Retrying will not help.
	ErrRejected = errors.New("directory index rejected operation")
)

func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func Rejected(err error) error {
	if err == nil || errors.Is(err, ErrRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// AccountRef identifies the owner of a contact directory. It is the owner's
// normalized mail address.
type AccountRef string

func (a AccountRef) String() string { return string(a) }

func NewAccountRef(s string) (AccountRef, error) {
	n := NormalizeAddress(s)
	if n == "" || !strings.Contains(n, "@") {
		return "", fmt.Errorf("invalid account %q", s)
	}
	return AccountRef(n), nil
}

// Contact is one indexable address. Identifier is stable per source version
// (the card UID for cards, empty for contacts mined from mail).
type Contact struct {
	Address     string
	DisplayName string
	Identifier  string
}

type Entry struct {
	Account AccountRef
	Contact
	CardUID   string
	UpdatedAt time.Time
}

type ListOptions struct {
	// CardUID restricts the listing to entries owned by one card. Empty lists all.
	CardUID string
}

type Index interface {
	Close()
	Get(ctx context.Context, account AccountRef, address string) (*Entry, error)
	List(ctx context.Context, account AccountRef, opts ListOptions) ([]*Entry, error)
	// Index upserts a contact. Entries owned by a card win over mined entries
	// (empty cardUID), and an empty display name never blanks an existing one.
	Index(ctx context.Context, account AccountRef, c Contact, cardUID string) error
	// Update rewrites the entry owned by cardUID. Returns ErrNotFound if that
	// card does not own the address.
	Update(ctx context.Context, account AccountRef, c Contact, cardUID string) error
	// Delete removes the entry only if cardUID owns it. Missing entries are not an error.
	Delete(ctx context.Context, account AccountRef, address, cardUID string) error
}

func NormalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSpace(strings.TrimPrefix(s, "mailto:"))
}

// ValidateContact normalizes c and rejects contacts without a usable address.
func ValidateContact(c Contact) (Contact, error) {
	c.Address = NormalizeAddress(c.Address)
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	if c.Address == "" {
		return c, Rejected(errors.New("empty address"))
	}
	if !strings.Contains(c.Address, "@") {
		return c, Rejected(fmt.Errorf("invalid address %q", c.Address))
	}
	return c, nil
}
