// Package presence tracks which users have live connections.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Session is the identity bound to one live connection at handshake time.
type Session struct {
	SessionID   string
	UserID      string
	Role        string
	Name        string
	ConnectedAt time.Time
}

// Registry maps session ids to sessions and users to their sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Register records a session. Registering an existing id replaces its descriptor.
func (r *Registry) Register(sessionID string, session Session) {
	session.SessionID = sessionID
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[sessionID]; ok && prev.UserID != session.UserID {
		r.removeFromUserLocked(prev.UserID, sessionID)
	}
	r.sessions[sessionID] = session
	ids, ok := r.byUser[session.UserID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[session.UserID] = ids
	}
	ids[sessionID] = struct{}{}
}

// Unregister removes a session and returns its descriptor.
func (r *Registry) Unregister(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, sessionID)
	r.removeFromUserLocked(session.UserID, sessionID)
	return session, true
}

func (r *Registry) removeFromUserLocked(userID, sessionID string) {
	ids, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(r.byUser, userID)
	}
}

// SessionsForUser returns the user's live session ids, sorted.
func (r *Registry) SessionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DescriptorFor returns the session registered under sessionID.
func (r *Registry) DescriptorFor(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Users returns the number of distinct users online.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
