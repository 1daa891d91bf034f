// Package operatorapi is the authenticated JSON API operators use to
// manage tasks, read alerts and submit replies.
package operatorapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/authmw"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	tasks  *task.Service
	queue  *alert.Queue
	intake *reply.Intake
	access *access.Checker
	clock  clock.Clock
}

// New creates a new API handler.
func New(logger log.Logger, tasks *task.Service, queue *alert.Queue, intake *reply.Intake, checker *access.Checker, clk clock.Clock) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if tasks == nil || queue == nil || intake == nil || checker == nil {
		panic(xerrors.New("operatorapi requires task service, alert queue, reply intake and access checker"))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &API{
		logger: logger,
		tasks:  tasks,
		queue:  queue,
		intake: intake,
		access: checker,
		clock:  clk,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps every
// route and must set the operator via authmw.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Get("/tasks", a.handleListTasks)
		r.Post("/tasks", a.handleCreateTask)
		r.Get("/tasks/{label}", a.handleGetTask)
		r.Patch("/tasks/{label}", a.handleUpdateTask)
		r.Delete("/tasks/{label}", a.handleDeleteTask)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/reply", a.handleReply)

		r.Get("/stats", a.handleStats)

		r.Get("/users", a.handleListUsers)
		r.Post("/users", a.handleAddUser)
		r.Delete("/users/{userID}", a.handleRemoveUser)
	})
}

// operator returns the authenticated caller or writes 401.
func operator(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := authmw.Operator(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	}
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// fail maps typed domain errors to status codes. Anything untyped is a
// storage fault: it is logged and hidden behind a 500.
func (a *API) fail(ctx context.Context, w http.ResponseWriter, err error, msg string, kv ...any) {
	switch {
	case errors.Is(err, task.ErrInvalid),
		errors.Is(err, alert.ErrInvalid),
		errors.Is(err, alert.ErrInvalidStatus),
		errors.Is(err, access.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, alert.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrDuplicateLabel),
		errors.Is(err, alert.ErrAlreadyReplied),
		errors.Is(err, alert.ErrAlreadyDelivered):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(ctx, err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
