// Package auth guards the API with a single shared bearer key, configured
// either in plain text or as a bcrypt hash.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier checks presented API keys
type Verifier struct {
	plain string
	hash  []byte

	mu       sync.RWMutex
	verified string // last key that matched hash, to skip repeated bcrypt work
}

// NewVerifier accepts key in plain text, or hash as produced by HashKey.
// When both are empty, Enabled reports false and every request passes.
func NewVerifier(key, hash string) (*Verifier, error) {
	v := &Verifier{plain: key}
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid api key hash: %w", err)
		}
		v.hash = []byte(hash)
	}
	return v, nil
}

// Enabled reports whether a key is configured
func (v *Verifier) Enabled() bool {
	return v.plain != "" || len(v.hash) > 0
}

// Verify checks token against the configured key
func (v *Verifier) Verify(token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if v.plain != "" && SecureCompare(token, v.plain) {
		return nil
	}
	if len(v.hash) == 0 {
		return ErrInvalidToken
	}

	v.mu.RLock()
	cached := v.verified
	v.mu.RUnlock()
	if cached != "" && SecureCompare(token, cached) {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	v.mu.Lock()
	v.verified = token
	v.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid "Authorization: Bearer" key.
// Paths for which exempt returns true pass through.
func (v *Verifier) Middleware(exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || (exempt != nil && exempt(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if err := v.Verify(BearerToken(r)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rifed"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from the Authorization header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// GenerateAPIKey returns a random URL-safe key
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(keyBytes), nil
}

// HashKey returns the bcrypt hash to put in api_key_hash
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
