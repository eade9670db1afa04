// Package registry tracks the sessions of connected clients.
package registry

import (
	"sync"

	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// Registry maps client ids to their sessions.
//
// Sessions are kept in a slice and looked up by linear scan. Removal swaps the
// removed entry with the last one and shrinks the slice, so the order of the
// remaining sessions is not preserved. Every access takes the mutex, reads
// included.
//
// Example usage:
//
//	reg := registry.New()
//	reg.Register(&registry.Session{ID: pid, Channel: out})
//	sess, err := reg.Lookup(pid)
//	sess, err = reg.Remove(pid) // caller closes sess.Channel
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) indexOf(id int32) int {
	for i, s := range r.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Register adds sess. A second session for the same id is rejected with
// SessionExists and the existing session is left in place.
func (r *Registry) Register(sess *Session) error {
	if sess == nil || sess.Channel == nil {
		return loanerr.New(loanerr.InvalidRequest, "cannot register a session without a channel")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(sess.ID) >= 0 {
		return loanerr.New(loanerr.SessionExists, "client %d already has a session", sess.ID)
	}
	r.sessions = append(r.sessions, sess)
	return nil
}

// Remove unregisters and returns the session for id. The session's channel
// is not closed; that is the caller's job.
func (r *Registry) Remove(id int32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil, loanerr.New(loanerr.UnknownSession, "client %d has no session", id)
	}

	sess := r.sessions[i]
	last := len(r.sessions) - 1
	r.sessions[i] = r.sessions[last]
	r.sessions[last] = nil
	r.sessions = r.sessions[:last]
	return sess, nil
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id int32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil, loanerr.New(loanerr.UnknownSession, "client %d has no session", id)
	}
	return r.sessions[i], nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the ids of all sessions. The returned slice is a copy.
func (r *Registry) IDs() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int32, 0, len(r.sessions))
	for _, s := range r.sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

// CloseAll closes every session's channel and empties the registry.
//
// Closing a client's channel ends its reads with EOF. Returns the number of
// sessions that were closed and the first close error.
func (r *Registry) CloseAll() (int, error) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(sessions), firstErr
}
