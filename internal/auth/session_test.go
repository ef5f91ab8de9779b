package auth

import (
	"context"
	"errors"
	"testing"

	"shopassist/internal/gateway"
	"shopassist/internal/logger"
	"shopassist/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

type mockBackend struct {
	loginToken  string
	loginErr    error
	registerErr error
	registered  []string
	armed       string
}

func (m *mockBackend) Login(ctx context.Context, creds gateway.Credentials) (string, error) {
	if m.loginErr != nil {
		return "", m.loginErr
	}
	return m.loginToken, nil
}

func (m *mockBackend) Register(ctx context.Context, reg gateway.Registration) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = append(m.registered, reg.Email)
	return nil
}

func (m *mockBackend) SetToken(token string) { m.armed = token }

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("disk full") }
func (failingStore) Remove(context.Context, string) error      { return errors.New("read-only") }

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func newFileStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	token := signedToken(t, jwt.MapClaims{"userId": "u-42"})

	t.Run("Success", func(t *testing.T) {
		backend := &mockBackend{loginToken: token}
		store := newFileStore(t)
		session := NewSession(backend, store, logger.Discard())
		session.Restore(ctx)

		if err := session.SignIn(ctx, "a@b.c", "pw"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if session.Token() != token {
			t.Errorf("Expected token in memory")
		}
		if backend.armed != token {
			t.Errorf("Expected gateway armed with token, got '%s'", backend.armed)
		}
		persisted, ok, _ := store.Get(ctx, TokenKey)
		if !ok || persisted != token {
			t.Errorf("Expected token persisted under %s", TokenKey)
		}
		if session.UserID() != "u-42" {
			t.Errorf("Expected user id 'u-42', got '%s'", session.UserID())
		}
	})

	t.Run("FailureKeepsPriorToken", func(t *testing.T) {
		backend := &mockBackend{loginToken: token}
		store := newFileStore(t)
		session := NewSession(backend, store, logger.Discard())
		if err := session.SignIn(ctx, "a@b.c", "pw"); err != nil {
			t.Fatal(err)
		}

		loginErr := &gateway.StatusError{StatusCode: 401, Body: "bad credentials"}
		backend.loginErr = loginErr
		err := session.SignIn(ctx, "a@b.c", "wrong")
		if err != loginErr {
			t.Fatalf("Expected backend error verbatim, got %v", err)
		}
		if session.Token() != token || backend.armed != token {
			t.Error("Expected previous token to survive a failed sign-in")
		}
		persisted, _, _ := store.Get(ctx, TokenKey)
		if persisted != token {
			t.Error("Expected persisted token unchanged")
		}
	})

	t.Run("StorageFailureStillArms", func(t *testing.T) {
		backend := &mockBackend{loginToken: token}
		session := NewSession(backend, failingStore{}, logger.Discard())
		if err := session.SignIn(ctx, "a@b.c", "pw"); err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if session.Token() != backend.armed {
			t.Error("Expected memory and gateway to agree when storage fails")
		}
	})
}

func TestSignOutThenRestore(t *testing.T) {
	ctx := context.Background()
	token := signedToken(t, jwt.MapClaims{"sub": "u-7"})
	store := newFileStore(t)

	backend := &mockBackend{loginToken: token}
	session := NewSession(backend, store, logger.Discard())
	session.Restore(ctx)
	if err := session.SignIn(ctx, "a@b.c", "pw"); err != nil {
		t.Fatal(err)
	}

	t.Run("RestoreAfterRestart", func(t *testing.T) {
		restarted := NewSession(&mockBackend{}, store, logger.Discard())
		restarted.Restore(ctx)
		if restarted.Token() != token || restarted.UserID() != "u-7" {
			t.Errorf("Expected restored session for u-7, got '%s'", restarted.UserID())
		}
	})

	session.SignOut(ctx)
	if session.Token() != "" || backend.armed != "" {
		t.Fatal("Expected token cleared in memory and on gateway")
	}

	restarted := NewSession(&mockBackend{}, store, logger.Discard())
	restarted.Restore(ctx)
	if restarted.Token() != "" || restarted.Authenticated() {
		t.Error("Expected no session after sign-out and restart")
	}
	if !restarted.Loaded() {
		t.Error("Expected session to be marked loaded")
	}

	t.Run("SignOutStorageFailure", func(t *testing.T) {
		backend := &mockBackend{}
		s := NewSession(backend, failingStore{}, logger.Discard())
		s.SetAuthState(ctx, token)
		s.SignOut(ctx)
		if s.Token() != "" {
			t.Error("Expected token cleared even when storage removal fails")
		}
	})

	t.Run("RestoreReadFailure", func(t *testing.T) {
		s := NewSession(&mockBackend{}, failingStore{}, logger.Discard())
		s.Restore(ctx)
		if s.Authenticated() || !s.Loaded() {
			t.Error("Expected unauthenticated but loaded session")
		}
	})
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	token := signedToken(t, jwt.MapClaims{"userId": "new-user"})

	t.Run("Success", func(t *testing.T) {
		backend := &mockBackend{loginToken: token}
		session := NewSession(backend, newFileStore(t), logger.Discard())
		if err := session.SignUp(ctx, "Ann", "ann@b.c", "pw"); err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if len(backend.registered) != 1 || session.UserID() != "new-user" {
			t.Error("Expected registration followed by sign-in")
		}
	})

	t.Run("RegisterFails", func(t *testing.T) {
		regErr := errors.New("email taken")
		backend := &mockBackend{registerErr: regErr}
		session := NewSession(backend, newFileStore(t), logger.Discard())
		err := session.SignUp(ctx, "Ann", "ann@b.c", "pw")
		if err != regErr {
			t.Errorf("Expected registration error verbatim, got %v", err)
		}
	})

	t.Run("RegisteredButSignInFails", func(t *testing.T) {
		loginErr := errors.New("login service down")
		backend := &mockBackend{loginErr: loginErr}
		session := NewSession(backend, newFileStore(t), logger.Discard())

		err := session.SignUp(ctx, "Ann", "ann@b.c", "pw")
		var signUpErr *SignUpError
		if !errors.As(err, &signUpErr) || !signUpErr.Registered {
			t.Fatalf("Expected SignUpError with Registered, got %v", err)
		}
		if !errors.Is(err, loginErr) {
			t.Error("Expected SignUpError to wrap the sign-in error")
		}
		if session.Authenticated() {
			t.Error("Expected session to stay unauthenticated")
		}
	})
}

func TestSetAuthState(t *testing.T) {
	ctx := context.Background()
	backend := &mockBackend{}
	store := newFileStore(t)
	session := NewSession(backend, store, logger.Discard())

	token := signedToken(t, jwt.MapClaims{"userId": float64(12)})
	session.SetAuthState(ctx, token)
	if backend.armed != token || session.UserID() != "12" {
		t.Errorf("Expected armed token with numeric user id, got '%s'", session.UserID())
	}

	session.SetAuthState(ctx, "not-a-jwt")
	if session.Token() != "not-a-jwt" || session.Authenticated() {
		t.Error("Expected an undecodable token not to count as a session")
	}

	session.SetAuthState(ctx, "")
	if _, ok, _ := store.Get(ctx, TokenKey); session.Authenticated() || ok {
		t.Error("Expected empty token to sign out")
	}
}

func TestUserIDFromToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"Empty", "", ""},
		{"Malformed", "not-a-jwt", ""},
		{"UserIDClaim", signedToken(t, jwt.MapClaims{"userId": "u1", "sub": "s1"}), "u1"},
		{"SubFallback", signedToken(t, jwt.MapClaims{"sub": "s1"}), "s1"},
		{"NoClaims", signedToken(t, jwt.MapClaims{"role": "user"}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserIDFromToken(tt.token); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}
