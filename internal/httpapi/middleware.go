package httpapi

import (
	"crypto/rsa"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s from=%s dur=%s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

// bearerAuth rejects requests whose Authorization header does not carry a
// token verifiable against the configured public key.  Rejection happens
// before any handler runs, so an unauthenticated call has no side effects.
//
// When the test token is enabled, the literal token "tester" is accepted;
// the QA suite drives the API with it.
func bearerAuth(key *rsa.PublicKey, allowTestToken bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
			return
		}

		if allowTestToken && token == "tester" {
			next.ServeHTTP(w, r)
			return
		}

		if key == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no verification key configured")
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid request token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
