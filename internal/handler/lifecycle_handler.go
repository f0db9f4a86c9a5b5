package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/telemetryhub/ingestd/internal/lifecycle"
)

// LifecycleHandler handles soft-delete, restore, and trash
// maintenance over the telemetry fact table.
type LifecycleHandler struct {
	manager *lifecycle.Manager
}

// NewLifecycleHandler creates a LifecycleHandler.
func NewLifecycleHandler(manager *lifecycle.Manager) *LifecycleHandler {
	return &LifecycleHandler{manager: manager}
}

type rowsAffectedResponse struct {
	RowsAffected int64 `json:"rows_affected"`
}

// DeleteEvent handles DELETE /v1/events/{id}.
func (h *LifecycleHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	n, err := h.manager.DeleteEvent(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	WriteSuccess(w, rowsAffectedResponse{RowsAffected: n})
}

// DeleteAllEvents handles DELETE /v1/events.
func (h *LifecycleHandler) DeleteAllEvents(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.DeleteAllEvents(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	WriteSuccess(w, rowsAffectedResponse{RowsAffected: n})
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (h *LifecycleHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	n, err := h.manager.DeleteEventsBySession(r.Context(), sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	WriteSuccess(w, rowsAffectedResponse{RowsAffected: n})
}

// RestoreEvent handles POST /v1/events/{id}/restore.
func (h *LifecycleHandler) RestoreEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	restored, err := h.manager.RecoverEvent(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "restore_failed", err.Error())
		return
	}
	if !restored {
		WriteError(w, http.StatusNotFound, "not_found", "event is not in the trash")
		return
	}
	WriteSuccess(w, map[string]bool{"restored": true})
}

// PermanentlyDeleteEvent handles DELETE /v1/events/{id}/permanent.
func (h *LifecycleHandler) PermanentlyDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	deleted, err := h.manager.PermanentlyDeleteEvent(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	if !deleted {
		WriteError(w, http.StatusNotFound, "not_found", "event is not in the trash")
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// EmptyTrash handles POST /v1/trash/empty.
func (h *LifecycleHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.EmptyTrash(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "empty_trash_failed", err.Error())
		return
	}
	WriteSuccess(w, rowsAffectedResponse{RowsAffected: n})
}

// ListTrash handles GET /v1/trash.
func (h *LifecycleHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.manager.GetDeletedEvents(r.Context(), intOrDefault(q.Get("limit"), 100), intOrDefault(q.Get("offset"), 0))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, events)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "id must be an integer")
		return 0, false
	}
	return id, true
}
