// Package auth verifies bearer tokens issued by the identity provider and
// turns them into pipeline users.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/coachdesk-api/internal/pipeline"
)

var (
	ErrInvalidHeader = errors.New("invalid authorization header")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingSub    = errors.New("token has no subject")
)

// Claims is the token payload the provider issues.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWT authenticates HS256 bearer tokens.
type JWT struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWT(secret []byte, issuer string, leeway time.Duration) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWT{secret: secret, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate implements pipeline.Authenticator.
func (j *JWT) Authenticate(r *http.Request) (*pipeline.User, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return nil, pipeline.ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrInvalidHeader
	}

	var claims Claims
	if _, err := j.parser.ParseWithClaims(strings.TrimSpace(token), &claims, j.key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSub
	}
	return &pipeline.User{ID: claims.Subject, Email: claims.Email, Roles: claims.Roles}, nil
}

func (j *JWT) key(*jwt.Token) (any, error) { return j.secret, nil }

// Sign issues a token for u. Used by tests and local tooling.
func (j *JWT) Sign(u pipeline.User, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: u.Email,
		Roles: u.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
