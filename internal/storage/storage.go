package storage

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/captioner/internal/models"
)

// SessionStore keeps caption sessions in memory for the life of the process
type SessionStore struct {
	sessions map[string]*models.CaptionSession
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.CaptionSession),
	}
}

// Create starts an empty session under a fresh id
func (s *SessionStore) Create() *models.CaptionSession {
	session := models.NewCaptionSession(uuid.NewString())
	s.Set(session.ID, session)
	return session
}

func (s *SessionStore) Get(sessionID string) (*models.CaptionSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	return session, exists
}

func (s *SessionStore) Set(sessionID string, session *models.CaptionSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = session
}

// GetAll returns every session, oldest first
func (s *SessionStore) GetAll() []*models.CaptionSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.CaptionSession, 0, len(s.sessions))
	for _, v := range s.sessions {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return exists
}
