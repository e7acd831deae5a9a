package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
)

// HandleAction runs enhance, extend or interrogate on the selected image.
// The pre-call caption is pushed onto the undo log before dispatch, so a
// failed call still leaves an undo entry behind.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}

	action, err := captioning.ParseAction(r.PathValue("action"))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	record, index, ok := session.SelectedRecord()
	if !ok {
		h.writeError(w, "No image selected", http.StatusConflict)
		return
	}

	cfg := h.settingsStore.Get()
	if err := h.captioningService.Preflight(action, cfg); err != nil {
		h.writeActionError(w, err)
		return
	}

	if !session.BeginAction(string(action)) {
		h.writeError(w, "Action already in progress", http.StatusConflict)
		return
	}
	defer session.EndAction(string(action))

	session.PushUndo(record.Caption)

	// Dispatched calls run to completion even if the client goes away.
	result, err := h.captioningService.Invoke(context.WithoutCancel(r.Context()), action, record, cfg)
	if err != nil {
		h.writeActionError(w, err)
		return
	}

	// Indexes shift when other records are deleted mid-call, so the result
	// is written back by name.
	index, ok = session.UpdateCaptionByName(record.Name, result.Caption)
	if !ok {
		slog.Warn("Image removed before caption arrived, dropping result", "session_id", session.ID, "action", action, "name", record.Name)
		h.writeErrorCode(w, "Image "+record.Name+" was removed before the caption arrived", "RECORD_REMOVED", http.StatusConflict)
		return
	}
	slog.Info("Caption updated", "session_id", session.ID, "action", action, "name", record.Name, "index", index)

	h.writeJSON(w, map[string]any{
		"index":    index,
		"caption":  result.Caption,
		"provider": result.Provider,
		"model":    result.Model,
	})
}

func (h *Handler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}

	caption, ok := session.Undo()
	if !ok {
		h.writeError(w, "Nothing to undo", http.StatusConflict)
		return
	}

	h.writeJSON(w, map[string]any{
		"index":   session.Selected(),
		"caption": caption,
	})
}
