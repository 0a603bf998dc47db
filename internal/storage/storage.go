package storage

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lehigh-university-libraries/birdid/internal/models"
)

// DefaultCapacity is the number of sessions kept when no capacity is given
const DefaultCapacity = 256

// SessionStore keeps the most recent classification sessions in memory
type SessionStore struct {
	sessions *lru.Cache[string, *models.ClassificationSession]
}

func New(capacity int) *SessionStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[string, *models.ClassificationSession](capacity)
	return &SessionStore{
		sessions: cache,
	}
}

func (s *SessionStore) Get(sessionID string) (*models.ClassificationSession, bool) {
	return s.sessions.Get(sessionID)
}

func (s *SessionStore) Set(sessionID string, session *models.ClassificationSession) {
	s.sessions.Add(sessionID, session)
}

// GetAll returns the stored sessions, newest first
func (s *SessionStore) GetAll() []*models.ClassificationSession {
	result := s.sessions.Values()
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) {
	s.sessions.Remove(sessionID)
}

func (s *SessionStore) Len() int {
	return s.sessions.Len()
}
