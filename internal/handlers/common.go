package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/export"
	"github.com/lehigh-university-libraries/captioner/internal/ingest"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type Handler struct {
	sessionStore      *storage.SessionStore
	settingsStore     *settings.Store
	captioningService *captioning.Service
	fetcher           *ingest.Fetcher
	staticDir         string
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func New(settingsStore *settings.Store) *Handler {
	return &Handler{
		sessionStore:      storage.New(),
		settingsStore:     settingsStore,
		captioningService: captioning.NewService(),
		fetcher:           ingest.NewFetcher(),
		staticDir:         "static",
	}
}

// Routes registers every endpoint on a new mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleSessionDetail)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleSessionDetail)
	mux.HandleFunc("POST /api/sessions/{id}/select", h.HandleSelect)
	mux.HandleFunc("PUT /api/sessions/{id}/images/{index}/caption", h.HandleCaption)
	mux.HandleFunc("POST /api/sessions/{id}/images/{index}/crop", h.HandleCrop)
	mux.HandleFunc("DELETE /api/sessions/{id}/images/{index}", h.HandleDeleteImage)
	mux.HandleFunc("POST /api/sessions/{id}/actions/{action}", h.HandleAction)
	mux.HandleFunc("POST /api/sessions/{id}/undo", h.HandleUndo)
	mux.HandleFunc("POST /api/sessions/{id}/export", h.HandleExport)
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/api/settings", h.HandleSettings)
	mux.HandleFunc("GET /api/models", h.HandleModels)
	mux.HandleFunc("/", h.HandleStatic)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	h.writeErrorCode(w, message, "", code)
}

func (h *Handler) writeErrorCode(w http.ResponseWriter, message, errCode string, code int) {
	slog.Error(message, "code", errCode, "status", code)
	h.writeJSONStatus(w, code, errorResponse{Error: message, Code: errCode})
}

// writeActionError reports a failed captioning action or model lookup
func (h *Handler) writeActionError(w http.ResponseWriter, err error) {
	var pe *providers.Error
	switch {
	case errors.Is(err, providers.ErrMissingCredential):
		h.writeErrorCode(w, err.Error(), "MISSING_CREDENTIAL", http.StatusBadRequest)
	case errors.As(err, &pe):
		h.writeErrorCode(w, pe.Message, pe.Code, http.StatusBadGateway)
	case errors.Is(err, export.ErrAssembly):
		h.writeErrorCode(w, err.Error(), "EXPORT_FAILED", http.StatusInternalServerError)
	default:
		h.writeErrorCode(w, err.Error(), providers.UnknownErrorCode, http.StatusInternalServerError)
	}
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*models.CaptionSession, bool) {
	session, exists := h.sessionStore.Get(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (h *Handler) indexOrError(w http.ResponseWriter, r *http.Request, session *models.CaptionSession) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, "Invalid image index", http.StatusBadRequest)
		return 0, false
	}
	if _, ok := session.Record(index); !ok {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return 0, false
	}
	return index, true
}
