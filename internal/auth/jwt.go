// Package auth is the identity provider for the catalog API: password
// hashing, password policy, JWT access/refresh tokens, optional GitHub
// OAuth, and the middleware that turns a bearer token into a user ID.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. POST /auth/register or /auth/login → server returns an access token
//     and a refresh token
//  2. The client sends "Authorization: Bearer <access>" on API calls
//  3. Middleware validates the token and puts the user ID in the context
//  4. When the access token expires, POST /auth/refresh with the refresh
//     token returns a new access token
//
// TOKEN KINDS:
// Both kinds are HS256 JWTs signed with the same secret. The "typ" claim
// tells them apart, so a long-lived refresh token can never be replayed as
// an access token and vice versa.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "movie-catalog"

// Token kinds carried in the "typ" claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenInvalid   = errors.New("auth: invalid token")
	ErrTokenWrongKind = errors.New("auth: wrong token type")
)

// TokenService issues and validates JWTs.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// TokenPair is what register and login hand back to the client.
type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// NewTokenService creates a TokenService with the given secret and
// lifetimes. Zero lifetimes fall back to the defaults.
// The secret should be at least 32 bytes of random data in production.
// Example: AUTH_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenService{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// claims is the JWT payload: the registered claims plus the token kind.
// "sub" (Subject) holds the internal user ID.
type claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// IssuePair creates a fresh access + refresh token pair for userID.
func (s *TokenService) IssuePair(userID string) (TokenPair, error) {
	access, err := s.GenerateAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.GenerateRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Refresh: refresh, Access: access}, nil
}

// GenerateAccess signs a short-lived access token for userID.
func (s *TokenService) GenerateAccess(userID string) (string, error) {
	return s.generate(userID, TokenAccess, s.accessTTL)
}

// GenerateRefresh signs a long-lived refresh token for userID.
func (s *TokenService) GenerateRefresh(userID string) (string, error) {
	return s.generate(userID, TokenRefresh, s.refreshTTL)
}

func (s *TokenService) generate(userID, kind string, ttl time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// ValidateAccess returns the user ID of a valid access token.
func (s *TokenService) ValidateAccess(tokenStr string) (string, error) {
	return s.validate(tokenStr, TokenAccess)
}

// ValidateRefresh returns the user ID of a valid refresh token.
func (s *TokenService) ValidateRefresh(tokenStr string) (string, error) {
	return s.validate(tokenStr, TokenRefresh)
}

// validate parses and verifies a JWT string.
//
// VALIDATION CHECKS:
//   - Signature is valid and the algorithm is HS256 (jwt.WithValidMethods
//     blocks the "alg: none" confusion attack)
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches "movie-catalog"
//   - The "typ" claim matches the kind the caller asked for
func (s *TokenService) validate(tokenStr, kind string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", ErrTokenInvalid
	}
	if c.Type != kind {
		return "", ErrTokenWrongKind
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrTokenInvalid)
	}

	return c.Subject, nil
}
