package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the identity asserted by the upstream identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// AuthService verifies bearer tokens issued for exam takers. Tokens are
// minted elsewhere; IssueToken exists for tooling and tests.
type AuthService struct {
	secret []byte
}

// NewAuthService creates an AuthService. It returns nil for an empty secret,
// which disables the identity check.
func NewAuthService(secret string) *AuthService {
	if secret == "" {
		return nil
	}
	return &AuthService{secret: []byte(secret)}
}

// IssueToken signs a token asserting email, valid for ttl.
func (s *AuthService) IssueToken(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strings.ToLower(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: strings.ToLower(email),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Email == "" {
		return nil, errors.New("token carries no email")
	}

	return claims, nil
}
