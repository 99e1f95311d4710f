// Package task runs long administrative jobs in the background and tracks
// their state.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sonroyaalmerol/contactsync/internal/batch"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrNotCancelled = errors.New("task already finished")
)

type State string

const (
	StateWaiting    State = "waiting"
	StateInProgress State = "inProgress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

func (s State) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type Task interface {
	Type() string
	Run(ctx context.Context) batch.Result
	// Details is a live, JSON-encodable view of the task's progress.
	Details() any
}

type Status struct {
	ID          string     `json:"taskId"`
	Type        string     `json:"type"`
	State       State      `json:"status"`
	SubmittedAt time.Time  `json:"submitDate"`
	StartedAt   *time.Time `json:"startedDate,omitempty"`
	CompletedAt *time.Time `json:"completedDate,omitempty"`
	CancelledAt *time.Time `json:"cancelledDate,omitempty"`
	Details     any        `json:"additionalInformation,omitempty"`
}

type entry struct {
	task   Task
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs submitted tasks in the background, at most parallel at once.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*entry
	slots  *semaphore.Weighted
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewManager(parallel int, logger zerolog.Logger) *Manager {
	if parallel <= 0 {
		parallel = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		tasks:  make(map[string]*entry),
		slots:  semaphore.NewWeighted(int64(parallel)),
		ctx:    ctx,
		stop:   stop,
		logger: logger.With().Str("component", "tasks").Logger(),
	}
}

func (m *Manager) Submit(t Task) string {
	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		task: t,
		status: Status{
			ID:          uuid.NewString(),
			Type:        t.Type(),
			State:       StateWaiting,
			SubmittedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.tasks[e.status.ID] = e
	m.mu.Unlock()

	m.logger.Info().Str("task_id", e.status.ID).Str("type", t.Type()).Msg("task submitted")
	m.wg.Add(1)
	go m.run(ctx, e)
	return e.status.ID
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.finish(e, StateCancelled)
		return
	}
	defer m.slots.Release(1)

	m.mu.Lock()
	if e.status.State == StateCancelled {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	e.status.State = StateInProgress
	e.status.StartedAt = &now
	m.mu.Unlock()

	res := e.task.Run(ctx)
	switch {
	case ctx.Err() != nil:
		m.finish(e, StateCancelled)
	case res == batch.Completed:
		m.finish(e, StateCompleted)
	default:
		m.finish(e, StateFailed)
	}
}

func (m *Manager) finish(e *entry, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishLocked(e, state)
}

func (m *Manager) finishLocked(e *entry, state State) {
	if e.status.State.Finished() {
		return
	}
	now := time.Now().UTC()
	e.status.State = state
	if state == StateCancelled {
		e.status.CancelledAt = &now
	} else {
		e.status.CompletedAt = &now
	}
	metrics.TasksFinished.WithLabelValues(e.status.Type, string(state)).Inc()
	m.logger.Info().
		Str("task_id", e.status.ID).
		Str("type", e.status.Type).
		Str("state", string(state)).
		Msg("task finished")
}

func (m *Manager) Get(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return Status{}, ErrNotFound
	}
	st := e.status
	st.Details = e.task.Details()
	return st, nil
}

// Cancel asks a task to stop. A waiting task never starts; a running task
// stops at its next cancellation point.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if e.status.State.Finished() {
		m.mu.Unlock()
		return ErrNotCancelled
	}
	if e.status.State == StateWaiting {
		m.finishLocked(e, StateCancelled)
	}
	m.mu.Unlock()

	e.cancel()
	return nil
}

// Await blocks until the task finishes or ctx is done.
func (m *Manager) Await(ctx context.Context, id string) (Status, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, ErrNotFound
	}
	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Close cancels every task and waits for them to return.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}
