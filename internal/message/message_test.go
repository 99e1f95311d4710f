package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/pkg/vcard"
)

const janeCard = `["vcard", [["uid", {}, "text", "42"], ["fn", {}, "text", "Jane Doe"], ["email", {}, "text", "Jane@X.com"]]]`

func TestDecodeAdded(t *testing.T) {
	body := `{"bookId": "b", "bookName": "n", "contactId": "42", "userId": "u1", "extra": true, "vcard": ` + janeCard + `}`

	ch, err := Decode(KindAdded, []byte(body))
	require.NoError(t, err)
	added, ok := ch.(Added)
	require.True(t, ok)
	assert.Equal(t, "u1", added.Owner())
	assert.Equal(t, "42", added.CardUID())
	assert.Equal(t, []storage.Contact{{Address: "jane@x.com", DisplayName: "Jane Doe", Identifier: "42"}}, added.Card.Contacts)
}

func TestDecodeOwnerAliases(t *testing.T) {
	for name, tc := range map[string]struct {
		fields string
		owner  string
	}{
		"direct wins":     {`"ownerId": "a", "userId": "b", "user": {"id": "c"}`, "a"},
		"principal path":  {`"owner": "principals/users/alice/"`, "alice"},
		"userId":          {`"userId": "b", "user": {"id": "c"}`, "b"},
		"nested id":       {`"user": {"id": "c"}`, "c"},
		"nested mongo id": {`"user": {"_id": "d"}`, "d"},
	} {
		t.Run(name, func(t *testing.T) {
			ch, err := Decode(KindUpdated, []byte(`{`+tc.fields+`, "vcard": `+janeCard+`}`))
			require.NoError(t, err)
			assert.Equal(t, tc.owner, ch.Owner())
			assert.IsType(t, Updated{}, ch)
		})
	}
}

func TestDecodeTextCard(t *testing.T) {
	body := `{"userId": "u1", "vcard": "BEGIN:VCARD\r\nVERSION:3.0\r\nUID:7\r\nFN:Carl\r\nEMAIL:carl@z.org\r\nEND:VCARD\r\n"}`
	ch, err := Decode(KindAdded, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "7", ch.CardUID())
}

func TestDecodeWithoutCardIsNotActionable(t *testing.T) {
	for _, body := range []string{`{}`, `{"userId": "u1"}`, `{"userId": "u1", "vcard": null}`} {
		ch, err := Decode(KindAdded, []byte(body))
		require.NoError(t, err)
		assert.Nil(t, ch)
	}
}

func TestDecodeCardWithoutOwner(t *testing.T) {
	_, err := Decode(KindAdded, []byte(`{"vcard": `+janeCard+`}`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeBadCard(t *testing.T) {
	_, err := Decode(KindAdded, []byte(`{"userId": "u1", "vcard": ["vcard", [["email", {}, "text", "x@x.com"]]]}`))
	require.ErrorIs(t, err, ErrDecode)
	var perr *vcard.ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestDecodeNotJSON(t *testing.T) {
	_, err := Decode(KindDeleted, []byte(`nope`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeDeleted(t *testing.T) {
	ch, err := Decode(KindDeleted, []byte(`{"userId": "u1", "contactId": "42", "emails": ["Jane@x.com", "jane@x.com"]}`))
	require.NoError(t, err)
	assert.Equal(t, Deleted{OwnerID: "u1", UID: "42", Addresses: []string{"jane@x.com"}}, ch)
}

func TestDecodeDeletedFromPath(t *testing.T) {
	ch, err := Decode(KindDeleted, []byte(`{"owner": "principals/users/u1", "path": "/addressbooks/u1/contacts/42.vcf"}`))
	require.NoError(t, err)
	d := ch.(Deleted)
	assert.Equal(t, "u1", d.OwnerID)
	assert.Equal(t, "42", d.UID)
	assert.Empty(t, d.Addresses)
}

func TestDecodeDeletedAddressesFromCard(t *testing.T) {
	ch, err := Decode(KindDeleted, []byte(`{"userId": "u1", "vcard": `+janeCard+`}`))
	require.NoError(t, err)
	assert.Equal(t, Deleted{OwnerID: "u1", UID: "42", Addresses: []string{"jane@x.com"}}, ch)
}

func TestDecodeDeletedWithoutUID(t *testing.T) {
	_, err := Decode(KindDeleted, []byte(`{"userId": "u1", "emails": ["a@x.com"]}`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestCardUIDWinsOverContactIDForEveryKind(t *testing.T) {
	body := `{"contactId": "c-1", "userId": "u1", "vcard": ` + janeCard + `}`
	for _, kind := range []Kind{KindAdded, KindUpdated, KindDeleted} {
		ch, err := Decode(kind, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, "42", ch.CardUID(), kind.String())
	}

	ch, err := Decode(KindDeleted, []byte(`{"contactId": "c-1", "userId": "u1", "emails": ["a@x.com"], "vcard": `+janeCard+`}`))
	require.NoError(t, err)
	assert.Equal(t, Deleted{OwnerID: "u1", UID: "42", Addresses: []string{"a@x.com"}}, ch)
}

func TestDecodeCardFallsBackToContactID(t *testing.T) {
	ch, err := Decode(KindDeleted, []byte(`{"contactId": "c-1", "userId": "u1", "vcard": ["vcard", [["fn", {}, "text", "Jane"], ["email", {}, "text", "jane@x.com"]]]}`))
	require.NoError(t, err)
	assert.Equal(t, "c-1", ch.CardUID())
}
