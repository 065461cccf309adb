package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// okHandler is a trivial downstream handler that always returns 200.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// signJWT returns an HS256 token with the given role and expiry.
func signJWT(t *testing.T, secret, role string, exp time.Time) string {
	t.Helper()
	claims := adminClaims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// TestSyncAuth_Disabled verifies that when no token is configured all
// requests pass through without credentials.
func TestSyncAuth_Disabled(t *testing.T) {
	t.Parallel()

	h := syncAuth("", "", okHandler)
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", w.Code)
	}
}

// TestSyncAuth_MissingCredentials verifies that a request with no token
// receives 401 with a JSON body when auth is enabled.
func TestSyncAuth_MissingCredentials(t *testing.T) {
	t.Parallel()

	h := syncAuth("secret", "", okHandler)
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header on 401")
	}
	if got := w.Body.String(); got != "{\"error\":\"Unauthorized\"}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestSyncAuth_Tokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"x-sync-token", "x-sync-token", "secret", http.StatusOK},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"lowercase bearer", "Authorization", "bearer secret", http.StatusOK},
		{"wrong x-sync-token", "x-sync-token", "nope", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer wrong-token", http.StatusUnauthorized},
		{"basic auth", "Authorization", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"prefix of token", "x-sync-token", "secre", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := syncAuth("secret", "", okHandler)
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			req.Header.Set(tc.header, tc.value)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestSyncAuth_AdminJWT(t *testing.T) {
	t.Parallel()

	const secret = "jwt-secret"
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"admin", signJWT(t, secret, "admin", future), http.StatusOK},
		{"non-admin role", signJWT(t, secret, "reader", future), http.StatusUnauthorized},
		{"expired", signJWT(t, secret, "admin", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"wrong secret", signJWT(t, "other", "admin", future), http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := syncAuth("sync-token", secret, okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/posts/sync", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

// TestSyncAuth_JWTIgnoredWithoutSecret verifies admin tokens are rejected
// on routes that only accept the shared token.
func TestSyncAuth_JWTIgnoredWithoutSecret(t *testing.T) {
	t.Parallel()

	h := syncAuth("sync-token", "", okHandler)
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signJWT(t, "jwt-secret", "admin", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got := bearerToken(req)
		if got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
