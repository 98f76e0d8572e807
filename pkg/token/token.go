// Package token signs and verifies symmetric session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for token operations.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrTokenSigningFailed = errors.New("failed to sign token")
	ErrMissingSecret      = errors.New("session secret is not configured")
)

// Default claim values.
const (
	DefaultIssuer   = "api-store"
	DefaultAudience = "api-client"
)

// Claims carried by a session token. Sid identifies the server-side
// session record; token expiry is the sole authoritative session TTL.
type Claims struct {
	jwt.RegisteredClaims
	Sid string `json:"sid"`
}

// Config holds token service configuration.
type Config struct {
	// Secret is the HMAC signing key.
	Secret string

	// Issuer is the token issuer claim. Default: "api-store".
	Issuer string

	// Audience is the token audience claim. Default: "api-client".
	Audience string

	// Duration is the token lifetime. Default: 7 days.
	Duration time.Duration
}

// Service signs and verifies session tokens.
type Service struct {
	config Config
}

// NewService creates a token service. The secret is required; callers
// in single-user mode may synthesize a process-lifetime random secret
// before calling.
func NewService(config Config) (*Service, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	if config.Audience == "" {
		config.Audience = DefaultAudience
	}
	if config.Duration == 0 {
		config.Duration = 7 * 24 * time.Hour
	}
	return &Service{config: config}, nil
}

// Duration returns the configured token lifetime.
func (s *Service) Duration() time.Duration {
	return s.config.Duration
}

// Sign creates a token for the given session id.
func (s *Service) Sign(sid string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Duration)),
		},
		Sid: sid,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", ErrTokenSigningFailed
	}
	return signed, nil
}

// Verify validates a token and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithAudience(s.config.Audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Sid == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
