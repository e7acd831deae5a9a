package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/ingest"
	"github.com/lehigh-university-libraries/captioner/internal/models"
)

type uploadResponse struct {
	SessionID string   `json:"session_id"`
	Message   string   `json:"message"`
	Added     int      `json:"added"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
	Selected  int      `json:"selected"`
}

// HandleUpload ingests files into a session. The target session comes from
// the session query parameter; a new one is created when it is absent.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var session *models.CaptionSession
	if id := r.URL.Query().Get("session"); id != "" {
		var ok bool
		if session, ok = h.getSessionOrError(w, id); !ok {
			return
		}
	}

	// Check if this is a JSON request with image URL
	var (
		files []ingest.File
		ok    bool
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		files, ok = h.readURLUpload(w, r)
	} else {
		files, ok = h.readFileUpload(w, r)
	}
	if !ok {
		return
	}

	if session == nil {
		session = h.sessionStore.Create()
	}

	result := ingest.Ingest(files)
	session.Append(result.Records...)

	response := uploadResponse{
		SessionID: session.ID,
		Message:   fmt.Sprintf("Successfully added %d images", len(result.Records)),
		Added:     len(result.Records),
		Failed:    result.Failed,
		Selected:  session.Selected(),
	}
	for _, err := range result.Errors {
		response.Errors = append(response.Errors, err.Error())
	}

	slog.Info("Upload ingested", "session_id", session.ID, "files", len(files), "added", response.Added, "failed", response.Failed)
	h.writeJSON(w, response)
}

func (h *Handler) readURLUpload(w http.ResponseWriter, r *http.Request) ([]ingest.File, bool) {
	var request struct {
		ImageURL string `json:"image_url"`
	}
	if !h.decodeJSON(w, r, &request) {
		return nil, false
	}

	if request.ImageURL == "" {
		h.writeError(w, "image_url is required", http.StatusBadRequest)
		return nil, false
	}

	file, err := h.fetcher.Fetch(r.Context(), request.ImageURL)
	if err != nil {
		h.writeError(w, "Failed to process image URL: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return []ingest.File{file}, true
}

func (h *Handler) readFileUpload(w http.ResponseWriter, r *http.Request) ([]ingest.File, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 4*ingest.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		h.writeError(w, "No files uploaded", http.StatusBadRequest)
		return nil, false
	}

	files := make([]ingest.File, 0, len(headers))
	for _, header := range headers {
		data, err := readPart(header)
		if err != nil {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return nil, false
		}
		files = append(files, ingest.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, true
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, ingest.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents %s: %w", header.Filename, err)
	}
	if len(data) > ingest.MaxUploadSize {
		return nil, fmt.Errorf("file too large: %s", header.Filename)
	}
	return data, nil
}
