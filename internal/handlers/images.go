package handlers

import (
	"encoding/base64"
	"errors"
	"image"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/captioner/internal/imaging"
)

func (h *Handler) HandleCaption(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}
	index, ok := h.indexOrError(w, r, session)
	if !ok {
		return
	}

	var request struct {
		Caption *string `json:"caption"`
	}
	if !h.decodeJSON(w, r, &request) {
		return
	}
	if request.Caption == nil {
		h.writeError(w, "caption is required", http.StatusBadRequest)
		return
	}

	if !session.UpdateCaption(index, *request.Caption) {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	h.writeView(w, session)
}

func (h *Handler) HandleCrop(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}
	index, ok := h.indexOrError(w, r, session)
	if !ok {
		return
	}

	var request struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if !h.decodeJSON(w, r, &request) {
		return
	}
	if request.Width <= 0 || request.Height <= 0 {
		h.writeError(w, "width and height must be positive", http.StatusBadRequest)
		return
	}

	record, _ := session.Record(index)
	data, err := base64.StdEncoding.DecodeString(record.Content)
	if err != nil {
		h.writeError(w, "Stored image is not valid base64", http.StatusInternalServerError)
		return
	}

	rect := image.Rect(request.X, request.Y, request.X+request.Width, request.Y+request.Height)
	cropped, err := imaging.Crop(data, rect)
	if errors.Is(err, imaging.ErrEmptyCrop) {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to crop image: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if !session.ReplaceContent(index, base64.StdEncoding.EncodeToString(cropped)) {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	slog.Info("Image cropped", "session_id", session.ID, "name", record.Name, "width", request.Width, "height", request.Height)
	h.writeView(w, session)
}

func (h *Handler) HandleDeleteImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}
	index, ok := h.indexOrError(w, r, session)
	if !ok {
		return
	}

	if !session.DeleteAt(index) {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	slog.Info("Image deleted", "session_id", session.ID, "index", index, "remaining", session.Len())
	h.writeView(w, session)
}
