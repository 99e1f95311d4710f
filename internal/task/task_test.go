package task

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
)

type fakeTask struct {
	result  batch.Result
	started chan struct{}
	release chan struct{}
}

func newFakeTask(res batch.Result) *fakeTask {
	return &fakeTask{result: res, started: make(chan struct{}), release: make(chan struct{})}
}

func (f *fakeTask) Type() string { return "fake" }
func (f *fakeTask) Details() any { return map[string]int{"n": 1} }

func (f *fakeTask) Run(ctx context.Context) batch.Result {
	close(f.started)
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return f.result
}

func awaitState(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := m.Await(ctx, id)
	require.NoError(t, err)
	return st
}

func TestManagerCompleted(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	defer m.Close()

	ft := newFakeTask(batch.Completed)
	id := m.Submit(ft)
	<-ft.started

	st, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, st.State)
	assert.NotNil(t, st.StartedAt)
	assert.Equal(t, map[string]int{"n": 1}, st.Details)

	close(ft.release)
	st = awaitState(t, m, id)
	assert.Equal(t, StateCompleted, st.State)
	assert.NotNil(t, st.CompletedAt)
}

func TestManagerPartialIsFailed(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	defer m.Close()

	ft := newFakeTask(batch.Partial)
	close(ft.release)
	id := m.Submit(ft)
	assert.Equal(t, StateFailed, awaitState(t, m, id).State)
}

func TestManagerCancelRunning(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	defer m.Close()

	ft := newFakeTask(batch.Partial)
	id := m.Submit(ft)
	<-ft.started

	require.NoError(t, m.Cancel(id))
	st := awaitState(t, m, id)
	assert.Equal(t, StateCancelled, st.State)
	assert.NotNil(t, st.CancelledAt)
	assert.ErrorIs(t, m.Cancel(id), ErrNotCancelled)
}

func TestManagerCancelWaiting(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	defer m.Close()

	first := newFakeTask(batch.Completed)
	firstID := m.Submit(first)
	<-first.started

	second := newFakeTask(batch.Completed)
	secondID := m.Submit(second)
	st, err := m.Get(secondID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)

	require.NoError(t, m.Cancel(secondID))
	assert.Equal(t, StateCancelled, awaitState(t, m, secondID).State)

	close(first.release)
	assert.Equal(t, StateCompleted, awaitState(t, m, firstID).State)
	select {
	case <-second.started:
		t.Fatal("cancelled task was started")
	default:
	}
}

func TestManagerUnknownTask(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	defer m.Close()

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
}
