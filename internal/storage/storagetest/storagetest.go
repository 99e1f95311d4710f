// Package storagetest holds the behaviour every storage.Index backend must
// share.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const (
	bob   = storage.AccountRef("bob@y.com")
	alice = storage.AccountRef("alice@y.com")
)

// Run exercises a fresh index returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Index) {
	tests := map[string]func(t *testing.T, idx storage.Index){
		"IndexIsIdempotent":        testIndexIdempotent,
		"AccountsAreIsolated":      testAccountsIsolated,
		"ListByCard":               testListByCard,
		"CardBeatsMined":           testCardBeatsMined,
		"EmptyNameKeepsOld":        testEmptyNameKeepsOld,
		"UpdateOnlyOwnCard":        testUpdateOnlyOwnCard,
		"DeleteOnlyOwnCard":        testDeleteOnlyOwnCard,
		"DeleteMissingIsNoop":      testDeleteMissing,
		"AddressesAreNormalized":   testNormalized,
		"InvalidAddressIsRejected": testInvalidAddress,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			idx := open(t)
			t.Cleanup(idx.Close)
			fn(t, idx)
		})
	}
}

func jane(name, id string) storage.Contact {
	return storage.Contact{Address: "jane@x.com", DisplayName: name, Identifier: id}
}

func testIndexIdempotent(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Jane Doe", "42"), "42"))
	require.NoError(t, idx.Index(ctx, bob, jane("Jane Doe", "42"), "42"))

	entries, err := idx.List(ctx, bob, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, bob, e.Account)
	assert.Equal(t, "jane@x.com", e.Address)
	assert.Equal(t, "Jane Doe", e.DisplayName)
	assert.Equal(t, "42", e.Identifier)
	assert.Equal(t, "42", e.CardUID)
	assert.False(t, e.UpdatedAt.IsZero())
}

func testAccountsIsolated(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Jane", "1"), "1"))

	_, err := idx.Get(ctx, alice, "jane@x.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	entries, err := idx.List(ctx, alice, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testListByCard(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: "b@x.com"}, "X"))
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: "a@x.com"}, "X"))
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: "c@x.com"}, "Y"))
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: "d@x.com"}, ""))

	entries, err := idx.List(ctx, bob, storage.ListOptions{CardUID: "X"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a@x.com", entries[0].Address)
	assert.Equal(t, "b@x.com", entries[1].Address)

	all, err := idx.List(ctx, bob, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testCardBeatsMined(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Mined", ""), ""))
	require.NoError(t, idx.Index(ctx, bob, jane("Jane Doe", "42"), "42"))
	require.NoError(t, idx.Index(ctx, bob, jane("Mined again", ""), ""))

	e, err := idx.Get(ctx, bob, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "42", e.CardUID)
	assert.Equal(t, "Jane Doe", e.DisplayName)
}

func testEmptyNameKeepsOld(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Jane Doe", ""), ""))
	require.NoError(t, idx.Index(ctx, bob, jane("", ""), ""))

	e, err := idx.Get(ctx, bob, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", e.DisplayName)
}

func testUpdateOnlyOwnCard(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Jane", "X"), "X"))

	assert.ErrorIs(t, idx.Update(ctx, bob, jane("Other", "Y"), "Y"), storage.ErrNotFound)
	assert.ErrorIs(t, idx.Update(ctx, bob, storage.Contact{Address: "nobody@x.com"}, "X"), storage.ErrNotFound)
	require.NoError(t, idx.Update(ctx, bob, jane("Jane Doe", "X"), "X"))

	e, err := idx.Get(ctx, bob, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", e.DisplayName)
	assert.Equal(t, "X", e.CardUID)
}

func testDeleteOnlyOwnCard(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, jane("Jane", "Y"), "Y"))

	require.NoError(t, idx.Delete(ctx, bob, "jane@x.com", "X"))
	_, err := idx.Get(ctx, bob, "jane@x.com")
	require.NoError(t, err)

	require.NoError(t, idx.Delete(ctx, bob, "jane@x.com", "Y"))
	_, err = idx.Get(ctx, bob, "jane@x.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteMissing(t *testing.T, idx storage.Index) {
	assert.NoError(t, idx.Delete(context.Background(), bob, "ghost@x.com", "X"))
}

func testNormalized(t *testing.T, idx storage.Index) {
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: " MAILTO:Jane@X.com "}, ""))

	e, err := idx.Get(ctx, bob, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", e.Address)
}

func testInvalidAddress(t *testing.T, idx storage.Index) {
	err := idx.Index(context.Background(), bob, storage.Contact{Address: "not-an-address"}, "")
	assert.ErrorIs(t, err, storage.ErrRejected)
}
