package client

import (
	"sync"

	"liveclass-service/internal/domain"
)

// Session holds the client's bearer token and announces renewals.
type Session struct {
	mu     sync.RWMutex
	token  string
	events chan domain.AuthEvent
}

func NewSession(token string) *Session {
	return &Session{token: token, events: make(chan domain.AuthEvent, 4)}
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Renew swaps the token and emits an auth event. If nobody is draining
// Events the oldest pending event is dropped.
func (s *Session) Renew(reason domain.AuthReason, token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	ev := domain.AuthEvent{Reason: reason, Token: token}
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// Events delivers sign-in and token refresh notifications.
func (s *Session) Events() <-chan domain.AuthEvent {
	return s.events
}
