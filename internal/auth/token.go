package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenRequest exchanges client credentials for a token
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// HashSecret returns the bcrypt hash stored in the clients configuration
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenHandler serves POST /api/token. clients maps client id to the bcrypt
// hash of its secret.
func TokenHandler(m *Manager, clients map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if m == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(TokenResponse{Error: "authentication is disabled"})
			return
		}

		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(TokenResponse{Error: "invalid request body"})
			return
		}

		clientID := strings.TrimSpace(req.ClientID)
		if clientID == "" || req.ClientSecret == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(TokenResponse{Error: "client_id and client_secret are required"})
			return
		}

		hash, ok := clients[clientID]
		if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.ClientSecret)) != nil {
			slog.Warn("auth.token.denied", "client_id", clientID)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(TokenResponse{Error: "invalid client credentials"})
			return
		}

		token, expires, err := m.GenerateToken(clientID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(TokenResponse{Error: "failed to generate token"})
			return
		}

		slog.Info("auth.token.issued", "client_id", clientID)
		json.NewEncoder(w).Encode(TokenResponse{
			Success:   true,
			Token:     token,
			ExpiresAt: &expires,
		})
	}
}
