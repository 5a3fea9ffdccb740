package app

import (
	"sync"

	"tictactoe/internal/domain"
)

// SessionContext holds the authenticated session shared by the components of
// one controller. Components read it on every operation so a re-login is
// picked up without rebuilding them.
type SessionContext struct {
	mu      sync.RWMutex
	current *domain.Session
}

// NewSessionContext returns a context with no session.
func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

// Current returns the active session or nil.
func (c *SessionContext) Current() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set replaces the active session wholesale.
func (c *SessionContext) Set(sess *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = sess
}

// Clear forgets the active session.
func (c *SessionContext) Clear() {
	c.Set(nil)
}
