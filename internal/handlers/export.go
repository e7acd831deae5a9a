package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/captioner/internal/export"
	"github.com/lehigh-university-libraries/captioner/internal/models"
)

// ExportFilename is the attachment name of a downloaded export
const ExportFilename = "captions.zip"

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}

	// An empty body exports captions only
	var opts models.ExportOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	records := session.Records()
	data, err := export.Build(records, opts)
	if err != nil {
		h.writeActionError(w, err)
		return
	}

	slog.Info("Session exported", "session_id", session.ID, "images", len(records), "bytes", len(data))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Unable to write export", "session_id", session.ID, "err", err)
	}
}
