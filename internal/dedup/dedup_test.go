package dedup

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/internal/storage/memory"
)

func TestSeedAndAddHaveNoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	bob := storage.AccountRef("bob@y.com")
	idx := memory.New()
	for i := range 200 {
		require.NoError(t, idx.Index(ctx, bob, storage.Contact{Address: fmt.Sprintf("seed%d@x.com", i)}, ""))
	}

	f, err := Seed(ctx, idx, bob, NewSalt())
	require.NoError(t, err)
	for i := range 300 {
		f.Add(fmt.Sprintf("new%d@x.com", i))
	}

	for i := range 200 {
		assert.True(t, f.MightContain(fmt.Sprintf("seed%d@x.com", i)))
	}
	for i := range 300 {
		assert.True(t, f.MightContain(fmt.Sprintf("NEW%d@x.com", i)))
	}
}

func TestEmptyFilterContainsNothing(t *testing.T) {
	f := New(NewSalt())
	assert.False(t, f.MightContain("jane@x.com"))
}

func TestSaltsDiffer(t *testing.T) {
	assert.NotEqual(t, NewSalt(), NewSalt())
}
