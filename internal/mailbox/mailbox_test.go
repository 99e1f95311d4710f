package mailbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

func TestMemoryScanSent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bob := storage.AccountRef("bob@y.com")

	_, err := m.ScanSent(ctx, bob, func(Message) error { return nil })
	require.ErrorIs(t, err, ErrNoSentFolder)

	m.Append(bob, nil)
	n, err := m.ScanSent(ctx, bob, func(Message) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, n)

	m.Append(bob, []byte("To: jane@x.com\r\n"))
	m.Append(bob, []byte("To: carl@z.org\r\n"))

	var uids []uint32
	n, err = m.ScanSent(ctx, bob, func(msg Message) error {
		uids = append(uids, msg.UID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{1, 2}, uids)
}

func TestMemoryScanSentStopsOnCallbackError(t *testing.T) {
	m := NewMemory()
	bob := storage.AccountRef("bob@y.com")
	m.Append(bob, []byte("To: a@x.com\r\n"))
	m.Append(bob, []byte("To: b@x.com\r\n"))

	boom := errors.New("boom")
	n, err := m.ScanSent(context.Background(), bob, func(Message) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}
