package services

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/facturaqr/facturas-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionService is the access gate for administrative operations. A single
// shared secret exists; a successful login issues an opaque token that every
// admin operation must present.
type SessionService struct {
	adminSecret string
	sessionTTL  time.Duration
	mutex       sync.RWMutex
	sessions    map[string]time.Time
}

// NewSessionService creates the access gate with the shared admin secret.
// An empty secret disables login entirely.
func NewSessionService(adminSecret string, sessionTTL time.Duration) *SessionService {
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	if adminSecret == "" {
		logrus.Warn("ADMIN_SECRET is empty, administrative login is disabled")
	}
	return &SessionService{
		adminSecret: adminSecret,
		sessionTTL:  sessionTTL,
		sessions:    make(map[string]time.Time),
	}
}

// Login validates the shared secret and issues a session token. The error is
// uniform on any failure so nothing about the secret leaks.
func (s *SessionService) Login(secret string) (string, error) {
	if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret)) != 1 {
		return "", shared.NewServiceError(
			shared.ErrorCategoryAuthentication,
			"INVALID_CREDENTIALS",
			"Credenciales no válidas",
			"Login",
			nil,
		)
	}

	token := uuid.NewString()

	s.mutex.Lock()
	s.sessions[token] = time.Now().Add(s.sessionTTL)
	s.mutex.Unlock()

	logrus.Info("Administrative session created")
	return token, nil
}

// Validate reports whether the token belongs to a live session
func (s *SessionService) Validate(token string) bool {
	if token == "" {
		return false
	}

	s.mutex.RLock()
	expiresAt, exists := s.sessions[token]
	s.mutex.RUnlock()

	if !exists {
		return false
	}
	if time.Now().After(expiresAt) {
		s.mutex.Lock()
		delete(s.sessions, token)
		s.mutex.Unlock()
		return false
	}
	return true
}

// Logout invalidates the token; unknown tokens are a no-op
func (s *SessionService) Logout(token string) {
	s.mutex.Lock()
	delete(s.sessions, token)
	s.mutex.Unlock()
}

// SweepExpired drops expired sessions and returns how many were removed
func (s *SessionService) SweepExpired() int {
	now := time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for token, expiresAt := range s.sessions {
		if now.After(expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// ActiveSessions returns the number of live sessions
func (s *SessionService) ActiveSessions() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}
