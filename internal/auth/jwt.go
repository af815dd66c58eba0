// Package auth issues and checks bearer tokens for API clients.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

type contextKey struct{}

// Claims identifies the API client behind a request
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Manager signs and validates HS256 tokens
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager creates a manager. An empty secret yields nil: auth disabled.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	if secretKey == "" {
		return nil
	}
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Manager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// GenerateToken creates a token for a client and returns its expiry
func (m *Manager) GenerateToken(clientID string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.tokenDuration)
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken parses a token and returns its claims
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ClientID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// publicPaths never require a token
var publicPaths = map[string]bool{
	"/health":    true,
	"/metrics":   true,
	"/api/token": true,
}

// JWTMiddleware rejects requests without a valid bearer token. A nil
// manager lets every request through.
func (m *Manager) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			unauthorized(w, ErrMissingToken)
			return
		}

		claims, err := m.ValidateToken(strings.TrimSpace(tokenString))
		if err != nil {
			unauthorized(w, ErrInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores claims in a context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// GetClaimsFromContext returns the claims set by the middleware
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrMissingToken
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
