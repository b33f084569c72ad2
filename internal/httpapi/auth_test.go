package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type userStoreStub struct {
	users map[string]domain.User
	err   error
}

func (s *userStoreStub) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[email]
	if !ok {
		return nil, fmt.Errorf("%w: user %q", store.ErrNotFound, email)
	}
	return &user, nil
}

func (s *userStoreStub) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, user := range s.users {
		if user.ID == id {
			return &user, nil
		}
	}
	return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
}

func newStubStore(t *testing.T) *userStoreStub {
	t.Helper()
	return &userStoreStub{users: map[string]domain.User{
		"ana@example.com": {
			ID:           7,
			Name:         "ana",
			Email:        "ana@example.com",
			PasswordHash: mustHashPassword(t, "pass1234"),
			Role:         domain.RoleSeller,
		},
	}}
}

func TestLoginIssuesTokenCarryingActor(t *testing.T) {
	manager := NewAuthManager("test-secret-key-with-enough-length!", time.Hour, newStubStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Email: "  ANA@example.com ", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleSeller {
		t.Fatalf("expected seller role, got %s", resp.Role)
	}
	if resp.User.ID != 7 {
		t.Fatalf("expected user id 7, got %d", resp.User.ID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.UserID != 7 || actor.Role != domain.RoleSeller || actor.Email != "ana@example.com" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))

	for _, req := range []domain.LoginRequest{
		{Email: "ana@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "pass1234"},
		{Email: "", Password: ""},
	} {
		_, err := manager.Login(context.Background(), req)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %q, got %v", req.Email, err)
		}
	}
}

func TestLoginSurfacesStoreFailure(t *testing.T) {
	stub := newStubStore(t)
	stub.err = fmt.Errorf("%w: connection refused", store.ErrPersistence)
	manager := NewAuthManager("test-secret", time.Hour, stub)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Email: "ana@example.com", Password: "pass1234"})
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected store failure to pass through, got %v", err)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))
	other := NewAuthManager("another-secret", time.Hour, newStubStore(t))
	user := domain.User{ID: 7, Name: "ana", Role: domain.RoleSeller}

	foreign, err := other.sign(user, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := manager.sign(user, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "7"})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none failed: %v", err)
	}
	if _, err := manager.ParseToken(raw); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}

	if _, err := manager.ParseToken(strings.Repeat("x", 20)); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestAuthenticateUsesCurrentAccountState(t *testing.T) {
	stub := newStubStore(t)
	manager := NewAuthManager("test-secret", time.Hour, stub)

	// Token claims admin; the stored account says seller.
	token, err := manager.sign(domain.User{ID: 7, Name: "ana", Email: "ana@example.com", Role: domain.RoleAdmin}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	actor, err := manager.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if actor.Role != domain.RoleSeller {
		t.Fatalf("expected stored role seller, got %s", actor.Role)
	}

	delete(stub.users, "ana@example.com")
	if _, err := manager.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected deleted account to invalidate token, got %v", err)
	}

	stub.err = fmt.Errorf("%w: connection refused", store.ErrPersistence)
	if _, err := manager.Authenticate(context.Background(), token); err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected store failure to pass through, got %v", err)
	}
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}
