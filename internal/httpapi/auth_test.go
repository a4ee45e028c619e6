package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"salesledger/backend/internal/domain"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
	err   error
}

func (s *userStoreStub) FindUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func newStubManager(t *testing.T) (*AuthManager, *userStoreStub) {
	t.Helper()
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  mustHashPassword(t, "admin123"),
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
			"retired": {
				Username: "retired",
				Password: mustHashPassword(t, "retired123"),
				Role:     domain.RoleStaff,
				Active:   false,
			},
			"legacy": {
				Username: "legacy",
				Password: "plain-text",
				Role:     domain.RoleStaff,
				Active:   true,
			},
		},
	}
	return NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, store), store
}

func TestLoginIssuesTokenCarryingRole(t *testing.T) {
	manager, _ := newStubManager(t)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	manager, store := newStubManager(t)

	cases := []struct {
		name string
		req  domain.LoginRequest
		want error
	}{
		{"wrong password", domain.LoginRequest{Username: "admin", Password: "nope"}, errInvalidCredentials},
		{"unknown user", domain.LoginRequest{Username: "ghost", Password: "admin123"}, errInvalidCredentials},
		{"inactive", domain.LoginRequest{Username: "retired", Password: "retired123"}, errInactiveAccount},
		{"unhashed password", domain.LoginRequest{Username: "legacy", Password: "plain-text"}, errInvalidCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.Login(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	store.err = domain.ErrUnavailable
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected store error to pass through, got %v", err)
	}
}

func TestParseTokenRejectsTamperedAndExpiredTokens(t *testing.T) {
	manager, _ := newStubManager(t)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := manager.ParseToken(tampered); err == nil {
		t.Fatalf("expected tampered token to fail")
	}

	other := NewAuthManager("a-completely-different-secret-value", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to fail")
	}

	manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestParseTokenRejectsUnknownRoleAndAlgNone(t *testing.T) {
	manager, _ := newStubManager(t)

	forged, err := manager.sign("mallory", domain.Role("owner"), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(forged); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "mallory", Issuer: tokenIssuer},
		Role:             domain.RoleAdmin,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := manager.ParseToken(raw); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected alg none token to be rejected, got %v", err)
	}
}
