package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPlain(t *testing.T) {
	v, err := NewVerifier("s3cret", "")
	require.NoError(t, err)

	assert.True(t, v.Enabled())
	assert.NoError(t, v.Verify("s3cret"))
	assert.ErrorIs(t, v.Verify("nope"), ErrInvalidToken)
	assert.ErrorIs(t, v.Verify(""), ErrMissingToken)
}

func TestVerifyHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewVerifier("", string(hash))
	require.NoError(t, err)

	assert.NoError(t, v.Verify("s3cret"))
	assert.NoError(t, v.Verify("s3cret"), "second check hits the cache")
	assert.ErrorIs(t, v.Verify("wrong"), ErrInvalidToken)
}

func TestNewVerifierRejectsBadHash(t *testing.T) {
	_, err := NewVerifier("", "not-a-bcrypt-hash")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier("s3cret", "")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := v.Middleware(func(r *http.Request) bool { return r.URL.Path == "/health" })(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/jobs", "", http.StatusUnauthorized},
		{"wrong key", "/jobs", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "/jobs", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", "/jobs", "bearer s3cret", http.StatusOK},
		{"exempt path", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	v, err := NewVerifier("", "")
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	rec := httptest.NewRecorder()
	v.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGenerateAndHash(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 43)

	hash, err := HashKey(key)
	require.NoError(t, err)
	v, err := NewVerifier("", hash)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(key))
}
