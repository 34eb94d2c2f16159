package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-station/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionReplaced    = errors.New("renderer session replaced by a newer login")
)

// TokenType distinguishes renderer tokens from anything else signed with the
// same secret.
type TokenType string

const TokenTypeRenderer TokenType = "renderer"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
}

// RendererSessions remembers which renderer login is current.
type RendererSessions interface {
	Register(ctx context.Context, jti string, ttl time.Duration) error
	Current(ctx context.Context) (string, error)
}

// AuthService authenticates the renderer against the station secret and
// issues the JWT it uses on the bridge.
type AuthService struct {
	cfg      *config.Config
	sessions RendererSessions
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, sessions RendererSessions) *AuthService {
	return &AuthService{cfg: cfg, sessions: sessions}
}

// HashSecret hashes a station secret with the configured bcrypt cost.
func HashSecret(secret string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	return string(hash), err
}

// CheckSecret compares a plaintext secret against the configured hash.
func (s *AuthService) CheckSecret(secret string) error {
	if s.cfg.StationSecretHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.StationSecretHash), []byte(secret)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login checks the secret and returns a renderer token. The new login becomes
// the only valid renderer session.
func (s *AuthService) Login(ctx context.Context, secret string) (string, error) {
	if err := s.CheckSecret(secret); err != nil {
		return "", err
	}

	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   "renderer",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeRenderer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if err := s.sessions.Register(ctx, jti, s.cfg.JWTExpiry); err != nil {
		return "", fmt.Errorf("store renderer session: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT string.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateRendererSession rejects tokens from a login that was replaced.
func (s *AuthService) ValidateRendererSession(ctx context.Context, jti string) error {
	current, err := s.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("check renderer session: %w", err)
	}
	if current == "" || current != jti {
		return ErrSessionReplaced
	}
	return nil
}
