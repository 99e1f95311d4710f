package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
	"github.com/sonroyaalmerol/contactsync/internal/mailbox"
	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/internal/storage/memory"
)

const bob = storage.AccountRef("bob@y.com")

// failingIndex rejects every Index call for one address.
type failingIndex struct {
	*memory.Store
	address string
	calls   int
}

func (f *failingIndex) Index(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	f.calls++
	if c.Address == f.address {
		return storage.Rejected(errors.New("refused"))
	}
	return f.Store.Index(ctx, account, c, cardUID)
}

func TestScanAccountFilterHit(t *testing.T) {
	ctx := context.Background()
	idx := memory.New()
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: "jane@x.com"}, ""))

	mb := mailbox.NewMemory()
	mb.Append(bob, []byte("To: jane@x.com\r\n"))

	task := NewIndexingTask(NewScanner(idx, mb, zerolog.Nop()), Fixed{bob}, 10, 1, zerolog.Nop())
	res := task.Run(ctx)

	assert.Equal(t, batch.Completed, res)
	d := task.Snapshot()
	assert.EqualValues(t, 1, d.ProcessedUsersCount)
	assert.EqualValues(t, 0, d.IndexedContactsCount)
	assert.EqualValues(t, 0, d.FailedContactsCount)
}

func TestScanAccountIndexesNewRecipients(t *testing.T) {
	ctx := context.Background()
	idx := memory.New()
	mb := mailbox.NewMemory()
	mb.Append(bob, []byte("To: Jane Doe <jane@x.com>, bob@y.com\r\nCc: carl@z.org\r\n"))
	mb.Append(bob, []byte("To: jane@x.com\r\n"))

	var p batch.Progress
	res, err := NewScanner(idx, mb, zerolog.Nop()).ScanAccount(ctx, bob, &p)
	require.NoError(t, err)
	assert.Equal(t, batch.Completed, res)
	assert.EqualValues(t, 2, p.Snapshot().Items)

	entries, err := idx.List(ctx, bob, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "carl@z.org", entries[0].Address)
	assert.Equal(t, "jane@x.com", entries[1].Address)
	assert.Equal(t, "Jane Doe", entries[1].DisplayName)
	assert.Empty(t, entries[1].CardUID)
}

func TestScanAccountNoSentFolder(t *testing.T) {
	var p batch.Progress
	res, err := NewScanner(memory.New(), mailbox.NewMemory(), zerolog.Nop()).ScanAccount(context.Background(), bob, &p)
	require.NoError(t, err)
	assert.Equal(t, batch.Completed, res)
}

func TestScanAccountFailedContactIsPartial(t *testing.T) {
	ctx := context.Background()
	idx := &failingIndex{Store: memory.New(), address: "bad@x.com"}
	mb := mailbox.NewMemory()
	mb.Append(bob, []byte("To: bad@x.com, good@x.com\r\n"))

	var p batch.Progress
	res, err := NewScanner(idx, mb, zerolog.Nop()).ScanAccount(ctx, bob, &p)
	require.NoError(t, err)
	assert.Equal(t, batch.Partial, res)
	snap := p.Snapshot()
	assert.EqualValues(t, 1, snap.Items)
	assert.EqualValues(t, 1, snap.FailedItems)
}

func TestScanAccountSkipsBadHeader(t *testing.T) {
	ctx := context.Background()
	idx := memory.New()
	mb := mailbox.NewMemory()
	mb.Append(bob, []byte("To: not an address\r\n"))
	mb.Append(bob, []byte("To: carl@z.org\r\n"))

	var p batch.Progress
	res, err := NewScanner(idx, mb, zerolog.Nop()).ScanAccount(ctx, bob, &p)
	require.NoError(t, err)
	assert.Equal(t, batch.Completed, res)
	assert.EqualValues(t, 1, p.Snapshot().Items)
	assert.Zero(t, p.Snapshot().FailedItems)
}

func TestScanAccountIndexesEachAddressOnce(t *testing.T) {
	ctx := context.Background()
	idx := &failingIndex{Store: memory.New()}
	mb := mailbox.NewMemory()
	for range 5 {
		mb.Append(bob, []byte("To: jane@x.com\r\n"))
	}

	var p batch.Progress
	_, err := NewScanner(idx, mb, zerolog.Nop()).ScanAccount(ctx, bob, &p)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.calls)
}

func TestDetailsJSON(t *testing.T) {
	task := NewIndexingTask(NewScanner(memory.New(), mailbox.NewMemory(), zerolog.Nop()), Fixed{}, 3, 1, zerolog.Nop())
	b, err := json.Marshal(task.Details())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"processedUsersCount": 0,
		"indexedContactsCount": 0,
		"failedContactsCount": 0,
		"failedUsers": [],
		"runningOptions": {"usersPerSecond": 3}
	}`, string(b))
}
