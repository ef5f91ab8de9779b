package auth

import (
	"context"
	"fmt"
	"sync"

	"shopassist/internal/gateway"
	"shopassist/internal/storage"

	"github.com/sirupsen/logrus"
)

// TokenKey is the storage key the session token is persisted under.
const TokenKey = "userToken"

// Backend is the part of the gateway the session needs.
type Backend interface {
	Login(ctx context.Context, creds gateway.Credentials) (string, error)
	Register(ctx context.Context, reg gateway.Registration) error
	SetToken(token string)
}

// SignUpError is returned when registration succeeded but the follow-up
// sign-in did not. The account exists on the server.
type SignUpError struct {
	Registered bool
	Err        error
}

func (e *SignUpError) Error() string {
	if e.Registered {
		return fmt.Sprintf("account registered but sign-in failed: %v", e.Err)
	}
	return fmt.Sprintf("registration failed: %v", e.Err)
}

func (e *SignUpError) Unwrap() error { return e.Err }

// Session is the single authenticated session of the process. The token in
// memory, in storage and on the backend client always change together.
type Session struct {
	backend Backend
	store   storage.Store
	logger  *logrus.Logger

	mu     sync.RWMutex
	token  string
	loaded bool
}

// NewSession creates an unloaded session. Call Restore before use.
func NewSession(backend Backend, store storage.Store, logger *logrus.Logger) *Session {
	return &Session{backend: backend, store: store, logger: logger}
}

// Restore loads the persisted token, if any, and arms the backend with it.
// A missing or unreadable token leaves the session signed out.
func (s *Session) Restore(ctx context.Context) {
	token, ok, err := s.store.Get(ctx, TokenKey)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read persisted session; starting signed out")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && ok && token != "" {
		s.token = token
		s.backend.SetToken(token)
	}
	s.loaded = true
	s.logger.WithField("authenticated", s.token != "").Info("Session restored")
}

// SignIn authenticates and commits the returned token. On failure the
// previous session is left untouched and the backend error is returned.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	token, err := s.backend.Login(ctx, gateway.Credentials{Email: email, Password: password})
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Sign-in failed")
		return err
	}
	s.commit(ctx, token)
	s.logger.WithField("user_id", s.UserID()).Info("Signed in")
	return nil
}

// SignUp registers a new account and then signs in with the same credentials.
func (s *Session) SignUp(ctx context.Context, name, email, password string) error {
	err := s.backend.Register(ctx, gateway.Registration{Name: name, Email: email, Password: password})
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Registration failed")
		return err
	}
	if err := s.SignIn(ctx, email, password); err != nil {
		return &SignUpError{Registered: true, Err: err}
	}
	return nil
}

// SignOut clears the session everywhere. Storage failures are logged only.
func (s *Session) SignOut(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.backend.SetToken("")
	if err := s.store.Remove(ctx, TokenKey); err != nil {
		s.logger.WithError(err).Error("Failed to remove persisted session")
	}
	s.logger.Info("Signed out")
}

// SetAuthState installs a token obtained out of band. An empty token signs out.
func (s *Session) SetAuthState(ctx context.Context, token string) {
	if token == "" {
		s.SignOut(ctx)
		return
	}
	s.commit(ctx, token)
}

func (s *Session) commit(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.backend.SetToken(token)
	if err := s.store.Set(ctx, TokenKey, token); err != nil {
		s.logger.WithError(err).Error("Failed to persist session token")
	}
	s.loaded = true
}

// Token returns the current token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the user id carried by the token, or "" when there is none.
func (s *Session) UserID() string {
	return UserIDFromToken(s.Token())
}

// Authenticated reports whether a token carrying a user id is armed. A token
// that cannot be decoded counts as no session.
func (s *Session) Authenticated() bool {
	return s.UserID() != ""
}

// Loaded reports whether Restore (or a sign-in) has completed.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
