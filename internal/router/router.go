package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/auth"
	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/task"
)

func New(cfg *config.Config, deps Deps, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{
		config: cfg,
		deps:   deps,
		auth:   authn,
		logger: logger.With().Str("component", "http").Logger(),
	}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	admin := http.NewServeMux()
	admin.HandleFunc("POST /contacts/indexing", r.handleStartIndexing)
	admin.HandleFunc("GET /tasks/{id}", r.handleGetTask)
	admin.HandleFunc("DELETE /tasks/{id}", r.handleCancelTask)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	if r.deps.Metrics != nil {
		mux.Handle("GET /metrics", r.deps.Metrics)
	}
	mux.Handle("/", r.auth.RequireAdmin(recordUser(admin)))

	return r.logRequests(mux)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	h := health{Status: "ok"}
	if r.deps.ConsumerState != nil {
		h.Consumer = r.deps.ConsumerState()
	}
	r.writeJSON(w, http.StatusOK, h)
}

func (r *Router) handleStartIndexing(w http.ResponseWriter, req *http.Request) {
	ups := r.config.Scan.UsersPerSecond
	if raw := req.URL.Query().Get("usersPerSecond"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			r.writeError(w, http.StatusBadRequest, "InvalidArgument", "usersPerSecond must be a strictly positive integer")
			return
		}
		ups = n
	}

	id := r.deps.Tasks.Submit(r.deps.NewIndexing(ups))
	r.writeJSON(w, http.StatusCreated, taskCreated{TaskID: id})
}

func (r *Router) handleGetTask(w http.ResponseWriter, req *http.Request) {
	st, err := r.deps.Tasks.Get(req.PathValue("id"))
	if errors.Is(err, task.ErrNotFound) {
		r.writeError(w, http.StatusNotFound, "NotFound", "unknown task")
		return
	}
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, "ServerError", err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, st)
}

// handleCancelTask is idempotent: cancelling a finished task succeeds.
func (r *Router) handleCancelTask(w http.ResponseWriter, req *http.Request) {
	err := r.deps.Tasks.Cancel(req.PathValue("id"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		r.writeError(w, http.StatusNotFound, "NotFound", "unknown task")
	case err == nil, errors.Is(err, task.ErrNotCancelled):
		w.WriteHeader(http.StatusNoContent)
	default:
		r.writeError(w, http.StatusInternalServerError, "ServerError", err.Error())
	}
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, typ, msg string) {
	r.writeJSON(w, status, apiError{StatusCode: status, Type: typ, Message: msg})
}

type userSlotKey struct{}

func withUserSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, userSlotKey{}, slot)
}

func userSlotFrom(ctx context.Context) *string {
	slot, _ := ctx.Value(userSlotKey{}).(*string)
	return slot
}
