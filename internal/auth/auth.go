// Package auth issues and verifies the signed tokens that carry a chat
// identity, and hashes account passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"verseroom/internal/document"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("missing token")
)

const bcryptCost = 10

func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

type claims struct {
	UserID   string        `json:"userId"`
	Username string        `json:"username"`
	Role     document.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies identity tokens with a shared HMAC secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) Issue(identity document.Identity, now time.Time) (string, error) {
	c := claims{
		UserID:   identity.ID,
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Verify(token string) (document.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", tok.Method.Alg())
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return document.Identity{}, ErrInvalidToken
	}
	if c.UserID == "" || c.Username == "" {
		return document.Identity{}, ErrInvalidToken
	}
	return document.Identity{ID: c.UserID, Username: c.Username, Role: c.Role}, nil
}

type contextKey struct{}

var identityKey contextKey

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (document.Identity, bool) {
	id, ok := ctx.Value(identityKey).(document.Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, identity document.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Middleware rejects requests without a valid bearer token and stores the
// verified identity on the request context.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := t.identityFromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if errors.Is(err, ErrNoToken) {
				fmt.Fprint(w, `{"message":"未提供认证令牌"}`)
			} else {
				fmt.Fprint(w, `{"message":"认证令牌无效或已过期"}`)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (t *Tokens) identityFromRequest(r *http.Request) (document.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return document.Identity{}, ErrNoToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		return document.Identity{}, ErrNoToken
	}
	return t.Verify(token)
}
