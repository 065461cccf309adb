package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/54b3r/postsearch-go/internal/logging"
)

// adminRole is the JWT role claim accepted on the push feed.
const adminRole = "admin"

// adminClaims is the subset of identity-provider claims we check.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// syncAuth returns middleware that guards the sync endpoints.
//
// A request passes when it presents the shared sync token, either as
//
//	x-sync-token: <token>
//	Authorization: Bearer <token>
//
// or, when jwtSecret is set, an HS256 bearer JWT whose role claim is
// "admin". If token is empty the middleware is a no-op; the warning is
// logged once at startup by New. Token values are never logged.
func syncAuth(token, jwtSecret string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		header := r.Header.Get("x-sync-token")
		bearer := bearerToken(r)

		if tokenEqual(header, token) || tokenEqual(bearer, token) {
			next.ServeHTTP(w, r)
			return
		}
		if jwtSecret != "" && bearer != "" {
			err := verifyAdminJWT(bearer, jwtSecret)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			log.Warn("auth: jwt rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		}

		log.Warn("auth: unauthorized sync request",
			slog.String("path", r.URL.Path),
			slog.Bool("token_present", header != "" || bearer != ""),
		)
		w.Header().Set("WWW-Authenticate", `Bearer realm="postsearch"`)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	})
}

// tokenEqual compares in constant time. An empty candidate never matches.
func tokenEqual(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// verifyAdminJWT validates an HS256 token and requires the admin role.
// Expiry is enforced when the token carries an exp claim.
func verifyAdminJWT(raw, secret string) error {
	var claims adminClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !tok.Valid {
		return fmt.Errorf("invalid token")
	}
	if claims.Role != adminRole {
		return fmt.Errorf("role %q is not %s", claims.Role, adminRole)
	}
	return nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
