package vcard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJCard(t *testing.T) {
	raw := `["vcard", [
		["version", {}, "text", "4.0"],
		["uid", {}, "text", "42"],
		["fn", {}, "text", "Jane Doe"],
		["n", {}, "text", ["Doe", "Jane", "", "", ""]],
		["email", {"type": ["work"]}, "text", "jane@x.com"],
		["email", {}, "text", "mailto:Jane.Home@x.com"],
		["x-unknown", {}, "unknown", 17]
	]]`

	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "42", c.UID)
	assert.Equal(t, "Jane Doe", c.FormattedName)
	assert.ElementsMatch(t, []string{"jane@x.com", "Jane.Home@x.com"}, c.Emails)
}

func TestParseVersionFirstLayout(t *testing.T) {
	raw := `["4.0", "Jane Doe", [["fn", {}, "text", "Jane Doe"], ["email", {}, "text", "jane@x.com"]]]`

	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"jane@x.com"}, c.Emails)
}

func TestParseNoEmailIsNotAnError(t *testing.T) {
	c, err := Parse([]byte(`["vcard", [["fn", {}, "text", "Nobody"]]]`))
	require.NoError(t, err)
	assert.Empty(t, c.Emails)
}

func TestParseMissingFN(t *testing.T) {
	_, err := Parse([]byte(`["vcard", [["email", {}, "text", "jane@x.com"]]]`))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "missing FN", perr.Reason)
}

func TestParseMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":          ``,
		"not json":       `[oops`,
		"no properties":  `["vcard", "x"]`,
		"short property": `["vcard", [["fn", {}]]]`,
		"not a vcard":    `hello`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestParseText(t *testing.T) {
	raw := "BEGIN:VCARD\nVERSION:4.0\nUID:abc\nFN:Carl\nEMAIL:carl@z.org\nEND:VCARD\n"

	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc", c.UID)
	assert.Equal(t, "Carl", c.FormattedName)
	assert.Equal(t, []string{"carl@z.org"}, c.Emails)
}

func TestParseTextWithoutEnvelope(t *testing.T) {
	for _, raw := range []string{"FN:Carl\n", "BEGIN:VCARD\nFN:Carl\n"} {
		_, err := ParseText([]byte(raw))
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), raw)
	}
}
