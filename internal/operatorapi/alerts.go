package operatorapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
)

type replyRequest struct {
	Text string `json:"text"`
}

func alertID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return 0, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("dupwatch.alert.id", id))
	return id, true
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var status alert.Status
	if s := q.Get("status"); s != "" {
		st, err := alert.ParseStatus(s)
		if err != nil {
			a.fail(r.Context(), w, err, "invalid status")
			return
		}
		status = st
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	alerts, err := a.queue.ListAlerts(r.Context(), op, status, limit)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to list alerts", "owner_id", op)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := alertID(w, r)
	if !ok {
		return
	}

	al, err := a.queue.Get(r.Context(), id)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to get alert", "alert_id", id)
		return
	}
	if al.OwnerID != op {
		admin, err := a.access.IsAdmin(r.Context(), op)
		if err != nil {
			a.fail(r.Context(), w, err, "access check failed", "operator_id", op)
			return
		}
		if !admin {
			a.fail(r.Context(), w, fmt.Errorf("%w: alert %d belongs to another owner", access.ErrForbidden, id), "")
			return
		}
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("dupwatch.alert.status", string(al.Status)))
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleReply(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	id, ok := alertID(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	al, err := a.intake.Submit(r.Context(), op, id, req.Text)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to submit reply", "alert_id", id)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	st, err := a.queue.Stats(r.Context(), op)
	if err != nil {
		a.fail(r.Context(), w, err, "failed to load stats", "owner_id", op)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
