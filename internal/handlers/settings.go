package handlers

import (
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/captioner/internal/settings"
)

// HandleSettings reads and replaces the stored settings. Secrets are never
// returned; a PUT that sends them back redacted keeps the stored values.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.settingsStore.Stored().Redact())
	case "PUT", "POST":
		var update settings.SessionConfig
		if !h.decodeJSON(w, r, &update) {
			return
		}

		cfg := h.settingsStore.Stored().Merge(update)
		if err := h.settingsStore.Set(cfg); err != nil {
			h.writeError(w, "Failed to save settings: "+err.Error(), http.StatusInternalServerError)
			return
		}

		slog.Info("Settings updated", "text_provider", cfg.TextProvider, "model_provider", cfg.SelectedModel.Provider, "model", cfg.SelectedModel.Name)
		h.writeJSON(w, cfg.Redact())
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	lists, err := h.captioningService.DiscoverModels(r.Context(), h.settingsStore.Get())
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, lists)
}
