package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// Registry indexes live sessions by connection identity and by username.
// A username maps to at most one session at any instant.
type Registry struct {
	mu     sync.RWMutex
	byConn map[uuid.UUID]*Session
	byName map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[uuid.UUID]*Session),
		byName: make(map[string]*Session),
	}
}

// Add tracks a newly connected, not yet authenticated session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.byConn[s.ID()] = s
	r.mu.Unlock()
}

// Register binds username to s. The check and the insert happen under one
// lock, so of two concurrent registrations of the same name exactly one
// succeeds.
func (r *Registry) Register(username string, s *Session) error {
	if username == "" {
		return ErrEmptyUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, taken := r.byName[username]; taken && owner != s {
		return oops.
			In("session").
			With("username", username).
			Wrapf(ErrDuplicateUsername, "username %s already in use", username)
	}
	if err := s.bindUsername(username); err != nil {
		return err
	}
	r.byName[username] = s
	r.byConn[s.ID()] = s

	log.WithFields(logger.Fields{
		"at":       "session.Registry.Register",
		"username": username,
		"session":  s.ID().String(),
	}).Debug("username_registered")
	return nil
}

// Lookup finds the session bound to username.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[username]
	return s, ok
}

// LookupByConnection finds a session by connection identity.
func (r *Registry) LookupByConnection(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[id]
	return s, ok
}

// Remove drops the session with the given identity from every index.
// Removing an unknown identity is a no-op.
func (r *Registry) Remove(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[id]
	if !ok {
		return nil, false
	}
	delete(r.byConn, id)
	if name := s.Username(); name != "" && r.byName[name] == s {
		delete(r.byName, name)
	}
	return s, true
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// AuthenticatedCount returns the number of sessions with a username.
func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Usernames returns every bound username, sorted.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sessions returns a snapshot of every connected session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every session's connection. Sessions stay registered
// until their handlers observe the close and remove them.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		s.Close()
	}
}
