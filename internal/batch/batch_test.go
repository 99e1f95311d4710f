package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

func accounts(n int) []storage.AccountRef {
	out := make([]storage.AccountRef, n)
	for i := range out {
		out[i] = storage.AccountRef(fmt.Sprintf("user%d@example.com", i))
	}
	return out
}

func TestResultCombine(t *testing.T) {
	assert.Equal(t, Completed, Completed.Combine(Completed))
	assert.Equal(t, Partial, Completed.Combine(Partial))
	assert.Equal(t, Partial, Partial.Combine(Completed))
	assert.Equal(t, Partial, Partial.Combine(Partial))
}

func TestRunOneFailingUser(t *testing.T) {
	users := accounts(10)
	r := NewRunner(1000, 4, zerolog.Nop())

	res := r.Run(context.Background(), Users(users...), func(_ context.Context, u storage.AccountRef, p *Progress) (Result, error) {
		if u == users[3] {
			return Partial, errors.New("mailbox unavailable")
		}
		p.AddItem()
		return Completed, nil
	})

	assert.Equal(t, Partial, res)
	snap := r.Progress().Snapshot()
	assert.EqualValues(t, 10, snap.ProcessedUsers)
	assert.EqualValues(t, 9, snap.Items)
	assert.Equal(t, []string{users[3].String()}, snap.FailedUsers)
}

func TestRunAllCompleted(t *testing.T) {
	r := NewRunner(1000, 2, zerolog.Nop())
	res := r.Run(context.Background(), Users(accounts(5)...), func(context.Context, storage.AccountRef, *Progress) (Result, error) {
		return Completed, nil
	})
	assert.Equal(t, Completed, res)
	assert.EqualValues(t, 5, r.Progress().Snapshot().ProcessedUsers)
	assert.Empty(t, r.Progress().Snapshot().FailedUsers)
}

func TestRunPartialUserIsNotFailedUser(t *testing.T) {
	r := NewRunner(1000, 2, zerolog.Nop())
	res := r.Run(context.Background(), Users(accounts(2)...), func(_ context.Context, _ storage.AccountRef, p *Progress) (Result, error) {
		p.AddFailedItem()
		return Partial, nil
	})
	assert.Equal(t, Partial, res)
	snap := r.Progress().Snapshot()
	assert.EqualValues(t, 2, snap.FailedItems)
	assert.Empty(t, snap.FailedUsers)
}

func TestRunEnumerationErrorAborts(t *testing.T) {
	users := func(yield func(storage.AccountRef, error) bool) {
		if !yield("a@example.com", nil) {
			return
		}
		if !yield("", errors.New("directory down")) {
			return
		}
		yield("b@example.com", nil)
	}

	var mu sync.Mutex
	var seen []storage.AccountRef
	r := NewRunner(1000, 1, zerolog.Nop())
	res := r.Run(context.Background(), iter.Seq2[storage.AccountRef, error](users), func(_ context.Context, u storage.AccountRef, _ *Progress) (Result, error) {
		mu.Lock()
		seen = append(seen, u)
		mu.Unlock()
		return Completed, nil
	})

	assert.Equal(t, Partial, res)
	assert.Equal(t, []storage.AccountRef{"a@example.com"}, seen)
}

func TestRunCancelBetweenUsers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	r := NewRunner(1000, 1, zerolog.Nop())

	done := make(chan Result, 1)
	go func() {
		done <- r.Run(ctx, Users(accounts(5)...), func(ctx context.Context, _ storage.AccountRef, _ *Progress) (Result, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			// The running user is not cancelled.
			if ctx.Err() != nil {
				return Partial, ctx.Err()
			}
			return Completed, nil
		})
	}()

	<-started
	cancel()
	close(release)

	select {
	case res := <-done:
		assert.Equal(t, Partial, res)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	snap := r.Progress().Snapshot()
	require.Less(t, snap.ProcessedUsers, int64(5))
	assert.Empty(t, snap.FailedUsers)
}

func TestRunRecoversPanickingUser(t *testing.T) {
	r := NewRunner(1000, 1, zerolog.Nop())
	res := r.Run(context.Background(), Users("a@example.com"), func(context.Context, storage.AccountRef, *Progress) (Result, error) {
		panic("boom")
	})
	assert.Equal(t, Partial, res)
	assert.Equal(t, []string{"a@example.com"}, r.Progress().Snapshot().FailedUsers)
}
