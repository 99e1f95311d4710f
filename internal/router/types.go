package router

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/auth"
	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/task"
)

// IndexingFactory builds a bulk indexing task running at usersPerSecond.
type IndexingFactory func(usersPerSecond int) task.Task

// Deps are the services the admin routes drive.
type Deps struct {
	Tasks       *task.Manager
	NewIndexing IndexingFactory
	// ConsumerState reports the change consumer's connection state.
	ConsumerState func() string
	// Metrics, when set, is served unauthenticated at /metrics.
	Metrics http.Handler
}

type Router struct {
	config *config.Config
	deps   Deps
	auth   *auth.Chain
	logger zerolog.Logger
}

type apiError struct {
	StatusCode int    `json:"statusCode"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

type taskCreated struct {
	TaskID string `json:"taskId"`
}

type health struct {
	Status   string `json:"status"`
	Consumer string `json:"consumer,omitempty"`
}
