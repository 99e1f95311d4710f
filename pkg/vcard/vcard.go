package vcard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
	"github.com/goccy/go-json"
)

// ParseError reports a card that cannot be turned into contacts.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vcard: %s: %v", e.Reason, e.Err)
	}
	return "vcard: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Card is the part of a contact card the directory cares about.
type Card struct {
	UID           string
	FormattedName string
	Emails        []string
}

// Parse accepts either a jCard array or a text/vcard document and returns the
// first card it contains.
func Parse(raw []byte) (Card, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Card{}, &ParseError{Reason: "empty card"}
	}
	if trimmed[0] == '[' {
		c, err := FromJCard(trimmed)
		if err != nil {
			return Card{}, err
		}
		return Extract(c)
	}
	cards, err := ParseText(trimmed)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		return Card{}, &ParseError{Reason: "no vcard found"}
	}
	return Extract(cards[0])
}

// Extract reads FN, UID and EMAIL from c. FN is mandatory; a card without
// email addresses is valid and yields no emails.
func Extract(c govcard.Card) (Card, error) {
	fn := strings.TrimSpace(c.Value(govcard.FieldFormattedName))
	if fn == "" {
		return Card{}, &ParseError{Reason: "missing FN"}
	}
	out := Card{
		UID:           strings.TrimSpace(c.Value(govcard.FieldUID)),
		FormattedName: fn,
	}
	seen := make(map[string]struct{})
	for _, v := range c.Values(govcard.FieldEmail) {
		addr := strings.TrimSpace(v)
		if len(addr) > 7 && strings.EqualFold(addr[:7], "mailto:") {
			addr = addr[7:]
		}
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Emails = append(out.Emails, addr)
	}
	return out, nil
}

// FromJCard converts a jCard (RFC 7095 style) array into a go-vcard Card.
// The property list is the first element that is itself an array of arrays,
// so both ["vcard", [...]] and [version, fn, [...]] layouts are accepted.
// Each property is [name, params, type, value...].
func FromJCard(raw []byte) (govcard.Card, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &ParseError{Reason: "jcard is not an array", Err: err}
	}

	var props [][]json.RawMessage
	found := false
	for _, el := range top {
		if err := json.Unmarshal(el, &props); err == nil {
			found = true
			break
		}
	}
	if !found {
		return nil, &ParseError{Reason: "jcard has no property list"}
	}

	card := make(govcard.Card)
	for i, p := range props {
		if len(p) < 4 {
			return nil, &ParseError{Reason: fmt.Sprintf("property %d has %d elements", i, len(p))}
		}
		var name string
		if err := json.Unmarshal(p[0], &name); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("property %d name", i), Err: err}
		}
		params, err := jcardParams(p[1])
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("property %q params", name), Err: err}
		}
		values := make([]string, 0, len(p)-3)
		for _, v := range p[3:] {
			values = append(values, jcardValue(v))
		}
		card.Add(strings.ToUpper(name), &govcard.Field{
			Value:  strings.Join(values, ","),
			Params: params,
		})
	}
	return card, nil
}

func jcardParams(raw json.RawMessage) (govcard.Params, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	params := make(govcard.Params, len(m))
	for k, v := range m {
		key := strings.ToUpper(k)
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				params.Add(key, fmt.Sprint(e))
			}
		default:
			params.Add(key, fmt.Sprint(t))
		}
	}
	return params, nil
}

// jcardValue flattens a property value. Structured values (arrays) are joined
// with ';' the way text vCards encode them.
func jcardValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, len(arr))
		for i, e := range arr {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ";")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func validateText(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty vCard data")
	}

	content := string(raw)
	if !strings.Contains(content, "BEGIN:VCARD") {
		return errors.New("vCard data missing BEGIN:VCARD")
	}
	if !strings.Contains(content, "END:VCARD") {
		return errors.New("vCard data missing END:VCARD")
	}
	return nil
}

// ParseText decodes every card of a text/vcard document.
func ParseText(b []byte) ([]govcard.Card, error) {
	if err := validateText(b); err != nil {
		return nil, &ParseError{Reason: "invalid text vcard", Err: err}
	}
	// Normalize line endings to CRLF as required by RFC 6350
	content := strings.ReplaceAll(string(b), "\n", "\r\n")
	content = strings.ReplaceAll(content, "\r\r\n", "\r\n")

	dec := govcard.NewDecoder(strings.NewReader(content))
	var out []govcard.Card
	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Reason: "failed to decode vCard", Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}
