package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-station/internal/config"
	"golang.org/x/crypto/bcrypt"
)

type memSessions struct {
	mu      sync.Mutex
	current string
	err     error
}

func (m *memSessions) Register(_ context.Context, jti string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.current = jti
	return nil
}

func (m *memSessions) Current(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.err
}

func newAuthFixture(t *testing.T) (*AuthService, *memSessions) {
	t.Helper()
	hash, err := HashSecret("station-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		StationSecretHash: hash,
	}
	sessions := &memSessions{}
	return NewAuthService(cfg, sessions), sessions
}

func TestLoginIssuesRendererToken(t *testing.T) {
	svc, sessions := newAuthFixture(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "station-secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TokenType != TokenTypeRenderer {
		t.Fatalf("token type = %s", claims.TokenType)
	}
	if claims.ID == "" || claims.ID != sessions.current {
		t.Fatalf("jti %q not registered (current %q)", claims.ID, sessions.current)
	}
	if err := svc.ValidateRendererSession(ctx, claims.ID); err != nil {
		t.Fatalf("fresh session rejected: %v", err)
	}
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	svc, sessions := newAuthFixture(t)

	if _, err := svc.Login(context.Background(), "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if sessions.current != "" {
		t.Fatal("rejected login must not register a session")
	}
}

func TestLoginWithoutConfiguredHash(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "x", JWTExpiry: time.Hour}, &memSessions{})
	if _, err := svc.Login(context.Background(), ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNewerLoginReplacesOlderRenderer(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	first, _ := svc.Login(ctx, "station-secret")
	second, _ := svc.Login(ctx, "station-secret")

	c1, err := svc.ValidateToken(first)
	if err != nil {
		t.Fatalf("old token still parses: %v", err)
	}
	c2, _ := svc.ValidateToken(second)

	if err := svc.ValidateRendererSession(ctx, c1.ID); !errors.Is(err, ErrSessionReplaced) {
		t.Fatalf("expected ErrSessionReplaced, got %v", err)
	}
	if err := svc.ValidateRendererSession(ctx, c2.ID); err != nil {
		t.Fatalf("latest session rejected: %v", err)
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc, _ := newAuthFixture(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TokenType: TokenTypeRenderer})
	signed, _ := forged.SignedString([]byte("other-secret"))
	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestSessionStoreErrorSurfaces(t *testing.T) {
	svc, sessions := newAuthFixture(t)
	sessions.err = errors.New("redis down")

	if _, err := svc.Login(context.Background(), "station-secret"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected a store error, got %v", err)
	}
	if err := svc.ValidateRendererSession(context.Background(), "jti"); err == nil || errors.Is(err, ErrSessionReplaced) {
		t.Fatalf("expected a store error, got %v", err)
	}
}
