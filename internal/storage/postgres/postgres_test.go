package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
	"github.com/sonroyaalmerol/contactsync/internal/storage/storagetest"
)

// Runs against a disposable database named by TEST_PG_URL.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_PG_URL")
	if dsn == "" {
		t.Skip("TEST_PG_URL not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Index {
		s, err := New(dsn, zerolog.Nop())
		require.NoError(t, err)
		_, err = s.pool.Exec(context.Background(), `TRUNCATE contacts`)
		require.NoError(t, err)
		return s
	})
}
