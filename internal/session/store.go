// Package session implements the gate's session-id → session map: a
// Config with defaults applied in New, an RWMutex-guarded map, and narrow
// accessor methods, the same construction idiom used by
// internal/shared/circuitbreaker.CircuitBreaker.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

// Bootstrapper issues a safe-default credential for a brand new session.
// It is a network operation (it calls out to the external issuer) and is
// invoked by GetOrCreate outside of any lock held by the store, keeping it
// off the Verification Pipeline's hot path.
type Bootstrapper interface {
	IssueSafeDefault(ctx context.Context, sessionID string) (*gatetypes.Credential, error)
}

// Config holds session store tuning, mirroring the defaults-in-New pattern
// used by the circuit breaker it is grounded on.
type Config struct {
	InactivityThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityThreshold == 0 {
		c.InactivityThreshold = 30 * time.Minute
	}
	return c
}

// Store is the gate's session map. The zero value is not usable; construct
// with New.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*gatetypes.Session
}

// New constructs an empty session store.
func New(cfg Config) *Store {
	return &Store{cfg: cfg.withDefaults(), sessions: make(map[string]*gatetypes.Session)}
}

// Get returns the session for id without creating one.
func (s *Store) Get(id string) (*gatetypes.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetOrCreate returns the existing session for id, or creates one. When a
// new session is created and boot is non-nil, it is used to bootstrap a
// safe-default credential; boot runs with no store lock held, so a slow or
// failing issuer call never blocks other sessions.
func (s *Store) GetOrCreate(ctx context.Context, id string, boot Bootstrapper) (*gatetypes.Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	sess := &gatetypes.Session{
		SessionID:      id,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	if boot == nil {
		return sess, nil
	}

	cred, err := boot.IssueSafeDefault(ctx, id)
	if err != nil {
		return sess, err
	}
	s.mu.Lock()
	sess.SetCredential(cred)
	s.mu.Unlock()
	return sess, nil
}

// SetCredential replaces id's bound credential, rebuilding its claim index.
func (s *Store) SetCredential(id string, cred *gatetypes.Credential) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.SetCredential(cred)
	return true
}

// Touch records activity on id, extending it past the inactivity threshold.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivityAt = time.Now()
	}
}

// Cleanup purges sessions inactive beyond the configured threshold and
// clears credentials whose expiry has passed on sessions that remain.
// It returns the number of sessions purged outright.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivityAt) > s.cfg.InactivityThreshold {
			delete(s.sessions, id)
			purged++
			continue
		}
		if sess.Credential != nil && !sess.Credential.ExpiresAt.After(now) {
			sess.Credential = nil
		}
	}
	return purged
}

// Len reports the current number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
