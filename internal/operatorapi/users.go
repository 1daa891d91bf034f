package operatorapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/dupwatch/internal/access"
)

type addUserRequest struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	admin, err := a.access.IsAdmin(r.Context(), op)
	if err != nil {
		a.fail(r.Context(), w, err, "access check failed", "operator_id", op)
		return
	}
	if !admin {
		a.fail(r.Context(), w, access.ErrForbidden, "")
		return
	}
	users, err := a.access.List(r.Context())
	if err != nil {
		a.fail(r.Context(), w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleAddUser(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	var req addUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	added, err := a.access.Add(r.Context(), op, req.UserID, req.IsAdmin, a.clock.Now())
	if err != nil {
		a.fail(r.Context(), w, err, "failed to add user", "user_id", req.UserID)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"user_id": req.UserID, "added": added})
}

func (a *API) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	removed, err := a.access.Remove(r.Context(), op, userID)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to remove user", "user_id", userID)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "removed": true})
}
