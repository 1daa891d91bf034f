package operatorapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/dupwatch/internal/task"
)

type createTaskRequest struct {
	Label           string   `json:"label"`
	ConversationIDs []string `json:"conversation_ids"`
	WindowHours     int      `json:"window_hours"`
	Method          string   `json:"method"`
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	tasks, err := a.tasks.ListTasks(r.Context(), op)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to list tasks", "owner_id", op)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.tasks.CreateTask(r.Context(), op, req.Label, req.ConversationIDs, req.WindowHours, task.Method(req.Method))
	if err != nil {
		a.fail(r.Context(), w, err, "failed to create task", "owner_id", op, "label", req.Label)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("dupwatch.task.id", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	label := chi.URLParam(r, "label")
	t, err := a.tasks.FindTask(r.Context(), op, label)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to get task", "owner_id", op, "label", label)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	label := chi.URLParam(r, "label")

	var u task.Update
	if err := decode(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.tasks.FindTask(r.Context(), op, label)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to get task", "owner_id", op, "label", label)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("dupwatch.task.id", t.ID))

	updated, err := a.tasks.UpdateTask(r.Context(), t.ID, &u)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to update task", "task_id", t.ID)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	label := chi.URLParam(r, "label")
	t, err := a.tasks.DeleteTask(r.Context(), op, label)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to delete task", "owner_id", op, "label", label)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
