package orchestrator

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Session is the per-tenant conversation state the orchestrator keeps between
// turns. The external thread ref inside it is what actually preserves
// context; the session wrapper exists so the rest of the pipeline never
// handles raw thread handles.
type Session struct {
	ID           string
	TenantID     string
	ThreadRef    string
	StartedAt    time.Time
	LastActivity time.Time
	Turns        int
}

type sessionStore struct {
	mu       sync.Mutex
	byTenant map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byTenant: make(map[string]*Session)}
}

func (s *sessionStore) ensure(tenantID string, now time.Time) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTenant[tenantID]
	if !ok {
		sess = &Session{ID: shortuuid.New(), TenantID: tenantID, StartedAt: now}
		s.byTenant[tenantID] = sess
	}
	return *sess
}

func (s *sessionStore) commit(tenantID, threadRef string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTenant[tenantID]
	if !ok {
		sess = &Session{ID: shortuuid.New(), TenantID: tenantID, StartedAt: now}
		s.byTenant[tenantID] = sess
	}
	sess.ThreadRef = threadRef
	sess.LastActivity = now
	sess.Turns++
}

func (s *sessionStore) get(tenantID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTenant[tenantID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *sessionStore) reset(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTenant, tenantID)
}
