// Package session holds the per-client state shared by every call: the
// endpoint and the current authentication token.
package session

import (
	"msfrpc/rpcerr"
	"msfrpc/transport"
	"sync"
)

// Session is safe for concurrent use. A call that races Clear or SetToken
// may still see the previous token.
type Session struct {
	endpoint transport.Endpoint

	mu    sync.RWMutex
	token string
}

// New validates ep and returns a session with no token.
func New(ep transport.Endpoint) (*Session, error) {
	if err := ep.Validate(); err != nil {
		return nil, rpcerr.NewInvalidState("session", "%v", err)
	}
	return &Session{endpoint: ep}, nil
}

func (s *Session) Endpoint() transport.Endpoint {
	return s.endpoint
}

// Token returns the current token and whether one is set.
func (s *Session) Token() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) ClearToken() {
	s.SetToken("")
}

// Authenticated reports whether a token is set.
func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}
