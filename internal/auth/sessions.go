/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated browser session.
type Session struct {
	ID          string
	AccessToken string
	ExpiresAt   time.Time
	UserID      string
	BattleTag   string

	lastActive time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

type pendingLogin struct {
	verifier  string
	returnTo  string
	createdAt time.Time
}

// MinSessionTimeout is the shortest idle timeout worth reaping on.
const MinSessionTimeout = time.Second

// reapInterval is how often idle entries are swept for a given timeout.
func reapInterval(idleTimeout time.Duration) time.Duration {
	return max(idleTimeout/2, MinSessionTimeout/2)
}

// pendingTimeout bounds how long a user has to finish the provider's
// login page.
const pendingTimeout = 10 * time.Minute

// Sessions holds sessions and in-flight logins in memory, reaping idle
// entries periodically.
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	pending     map[string]pendingLogin
	idleTimeout time.Duration
	now         func() time.Time

	stop chan struct{}
	once sync.Once
}

func NewSessions(idleTimeout time.Duration) *Sessions {
	s := &Sessions{
		sessions:    make(map[string]*Session),
		pending:     make(map[string]pendingLogin),
		idleTimeout: idleTimeout,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go s.reaperLoop()
	}

	return s
}

func (s *Sessions) Close() {
	s.once.Do(func() {
		close(s.stop)
	})
}

func (s *Sessions) create(sess Session) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.ID = uuid.NewString()
	sess.lastActive = s.now()

	stored := sess
	s.sessions[sess.ID] = &stored

	return sess
}

// Get returns a copy of the session, refreshing its idle timer. Expired
// sessions are dropped.
func (s *Sessions) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}

	now := s.now()
	if sess.Expired(now) {
		delete(s.sessions, id)

		return Session{}, false
	}
	sess.lastActive = now

	return *sess, true
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

func (s *Sessions) addPending(state string, p pendingLogin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.createdAt = s.now()
	s.pending[state] = p
}

// takePending returns and removes the login for state; each state can be
// redeemed once.
func (s *Sessions) takePending(state string) (pendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return pendingLogin{}, false
	}
	delete(s.pending, state)

	if s.now().Sub(p.createdAt) > pendingTimeout {
		return pendingLogin{}, false
	}

	return p, true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Sessions) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.idleTimeout)

	for id, sess := range s.sessions {
		if sess.lastActive.Before(cutoff) || sess.Expired(now) {
			delete(s.sessions, id)
		}
	}

	for state, p := range s.pending {
		if now.Sub(p.createdAt) > pendingTimeout {
			delete(s.pending, state)
		}
	}
}

func (s *Sessions) reaperLoop() {
	ticker := time.NewTicker(reapInterval(s.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reap()
		case <-s.stop:
			return
		}
	}
}
