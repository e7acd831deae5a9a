package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

type sessionSummary struct {
	ID        string    `json:"id"`
	Images    int       `json:"images"`
	Selected  int       `json:"selected"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		sessions := h.sessionStore.GetAll()
		sessionList := make([]sessionSummary, 0, len(sessions))
		for _, session := range sessions {
			sessionList = append(sessionList, sessionSummary{
				ID:        session.ID,
				Images:    session.Len(),
				Selected:  session.Selected(),
				CreatedAt: session.CreatedAt,
			})
		}
		h.writeJSON(w, sessionList)
	case "POST":
		session := h.sessionStore.Create()
		slog.Info("Session created", "session_id", session.ID)
		h.writeJSONStatus(w, http.StatusCreated, session.View())
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, ok := h.getSessionOrError(w, sessionID)
	if !ok {
		return
	}

	switch r.Method {
	case "GET":
		h.writeJSON(w, session.View())
	case "DELETE":
		h.sessionStore.Delete(sessionID)
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}

	var request struct {
		Index *int `json:"index"`
		Step  int  `json:"step"`
	}
	if !h.decodeJSON(w, r, &request) {
		return
	}

	switch {
	case request.Index != nil:
		if !session.SelectAt(*request.Index) {
			h.writeError(w, "Image not found", http.StatusNotFound)
			return
		}
	case request.Step == 1 || request.Step == -1:
		session.Step(request.Step)
	default:
		h.writeError(w, "Provide an index or a step of 1 or -1", http.StatusBadRequest)
		return
	}

	h.writeJSON(w, map[string]int{"selected": session.Selected()})
}

func (h *Handler) writeView(w http.ResponseWriter, session *models.CaptionSession) {
	h.writeJSON(w, session.View())
}
