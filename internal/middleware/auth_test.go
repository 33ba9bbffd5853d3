package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/despertar/media/internal/middleware"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestRequireAuth(t *testing.T) {
	var gotID string
	var gotAdmin bool
	h := middleware.RequireAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = middleware.UserID(r.Context())
		gotAdmin = middleware.IsAdmin(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name   string
		header string
		status int
		id     string
		admin  bool
	}{
		{"missing header", "", http.StatusUnauthorized, "", false},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "", false},
		{"garbage token", "Bearer nope", http.StatusUnauthorized, "", false},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, "", false},
		{"no subject", "Bearer " + sign(t, jwt.MapClaims{"exp": exp}), http.StatusUnauthorized, "", false},
		{"user", "Bearer " + sign(t, jwt.MapClaims{"sub": "u1", "exp": exp}), http.StatusNoContent, "u1", false},
		{"admin", "Bearer " + sign(t, jwt.MapClaims{"sub": "a1", "role": "admin", "exp": exp}), http.StatusNoContent, "a1", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotID, gotAdmin = "", false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.id, gotID)
			assert.Equal(t, tc.admin, gotAdmin)
		})
	}
}
