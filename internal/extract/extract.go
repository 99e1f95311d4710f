// Package extract mines recipient contacts out of sent-mail headers.
package extract

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

// RecipientHeaders are the only fields mined. From is the account itself.
var RecipientHeaders = []string{"To", "Cc", "Bcc"}

// Error reports one header of one message that could not be parsed. The
// message's other headers are still extracted.
type Error struct {
	Header string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Header, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recipients parses the To, Cc and Bcc fields of a raw header block. The
// account's own address and repeated addresses are dropped. Contacts found in
// parseable headers are returned alongside any per-header errors.
func Recipients(raw []byte, self storage.AccountRef) ([]storage.Contact, error) {
	th, err := readHeader(raw)
	if err != nil {
		return nil, &Error{Header: "header", Err: err}
	}
	h := mail.Header{Header: message.Header{Header: th}}

	var (
		out  []storage.Contact
		errs []error
		seen = map[string]struct{}{self.String(): {}}
	)
	for _, field := range RecipientHeaders {
		if !h.Has(field) {
			continue
		}
		list, err := h.AddressList(field)
		if err != nil {
			errs = append(errs, &Error{Header: field, Err: err})
			continue
		}
		for _, a := range list {
			addr := storage.NormalizeAddress(a.Address)
			if !strings.Contains(addr, "@") {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, storage.Contact{
				Address:     addr,
				DisplayName: strings.TrimSpace(a.Name),
			})
		}
	}
	return out, errors.Join(errs...)
}

func readHeader(raw []byte) (textproto.Header, error) {
	// Header-only fetches may lack the blank line that ends a header block.
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(slices.Clip(bytes.TrimRight(raw, "\r\n")), "\r\n\r\n"...)
	}
	return textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
}
