// Package message decodes groupware change notifications into typed changes.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/pkg/vcard"
)

// ErrDecode wraps every failure to turn a payload into a change. Such
// messages can never succeed on redelivery.
var ErrDecode = errors.New("undecodable change message")

type Kind int

const (
	KindAdded Kind = iota
	KindUpdated
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Change is one of Added, Updated or Deleted.
type Change interface {
	Owner() string
	CardUID() string
	isChange()
}

// Card is a decoded contact card: one contact per email address, all sharing
// the card's formatted name and UID.
type Card struct {
	UID      string
	Contacts []storage.Contact
}

type Added struct {
	OwnerID string
	Card    Card
}

type Updated struct {
	OwnerID string
	Card    Card
}

// Deleted names the addresses to drop for a card. An empty Addresses list
// means every address the card owns.
type Deleted struct {
	OwnerID   string
	UID       string
	Addresses []string
}

func (a Added) Owner() string     { return a.OwnerID }
func (a Added) CardUID() string   { return a.Card.UID }
func (Added) isChange()           {}
func (u Updated) Owner() string   { return u.OwnerID }
func (u Updated) CardUID() string { return u.Card.UID }
func (Updated) isChange()         {}
func (d Deleted) Owner() string   { return d.OwnerID }
func (d Deleted) CardUID() string { return d.UID }
func (Deleted) isChange()         {}

type payload struct {
	BookID    string          `json:"bookId"`
	BookName  string          `json:"bookName"`
	ContactID string          `json:"contactId"`
	UID       string          `json:"uid"`
	Path      string          `json:"path"`
	OwnerID   string          `json:"ownerId"`
	Owner     string          `json:"owner"`
	UserID    string          `json:"userId"`
	User      *payloadUser    `json:"user"`
	VCard     json.RawMessage `json:"vcard"`
	Emails    []string        `json:"emails"`
}

type payloadUser struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
}

// owner resolves the owner id: the direct field, then userId, then the
// nested user object. A principal path is reduced to its last segment.
func (p payload) owner() string {
	direct := firstNonEmpty(p.OwnerID, p.Owner)
	if direct != "" {
		if strings.Contains(direct, "/") {
			return path.Base(strings.TrimSuffix(direct, "/"))
		}
		return direct
	}
	if p.UserID != "" {
		return p.UserID
	}
	if p.User != nil {
		return firstNonEmpty(p.User.ID, p.User.MongoID)
	}
	return ""
}

func (p payload) hasCard() bool {
	b := bytes.TrimSpace(p.VCard)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// Decode turns a broker payload into a Change. A nil Change with a nil error
// means the message carries nothing to act on.
func Decode(kind Kind, body []byte) (Change, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	switch kind {
	case KindAdded, KindUpdated:
		if !p.hasCard() {
			return nil, nil
		}
		owner := p.owner()
		if owner == "" {
			return nil, fmt.Errorf("%w: missing owner", ErrDecode)
		}
		card, err := decodeCard(p)
		if err != nil {
			return nil, err
		}
		if kind == KindAdded {
			return Added{OwnerID: owner, Card: card}, nil
		}
		return Updated{OwnerID: owner, Card: card}, nil

	case KindDeleted:
		owner := p.owner()
		if owner == "" {
			return nil, fmt.Errorf("%w: missing owner", ErrDecode)
		}
		uid := firstNonEmpty(p.ContactID, p.UID, uidFromPath(p.Path))
		addresses := p.Emails
		if p.hasCard() {
			// The card's own uid wins, as for Added and Updated.
			card, err := decodeCard(p)
			if err != nil {
				return nil, err
			}
			uid = card.UID
			if len(addresses) == 0 {
				for _, c := range card.Contacts {
					addresses = append(addresses, c.Address)
				}
			}
		}
		if uid == "" {
			return nil, fmt.Errorf("%w: missing card uid", ErrDecode)
		}
		return Deleted{OwnerID: owner, UID: uid, Addresses: normalizeAll(addresses)}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrDecode, kind)
}

func decodeCard(p payload) (Card, error) {
	raw := bytes.TrimSpace(p.VCard)
	// A text/vcard body arrives as a JSON string.
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Card{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		raw = []byte(text)
	}
	vc, err := vcard.Parse(raw)
	if err != nil {
		return Card{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	uid := firstNonEmpty(vc.UID, p.ContactID)
	if uid == "" {
		return Card{}, fmt.Errorf("%w: card has no uid", ErrDecode)
	}
	card := Card{UID: uid}
	for _, email := range vc.Emails {
		addr := storage.NormalizeAddress(email)
		if !strings.Contains(addr, "@") {
			continue
		}
		card.Contacts = append(card.Contacts, storage.Contact{
			Address:     addr,
			DisplayName: vc.FormattedName,
			Identifier:  uid,
		})
	}
	return card, nil
}

func uidFromPath(p string) string {
	if p == "" {
		return ""
	}
	return strings.TrimSuffix(path.Base(strings.TrimSuffix(p, "/")), ".vcf")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		n := storage.NormalizeAddress(a)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
