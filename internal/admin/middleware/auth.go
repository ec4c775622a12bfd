package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"shopsync/pkg/api"
)

// HashToken returns the SHA-256 hex digest of a token. The daemon is
// configured with the digest, never the raw token.
func HashToken(token string) string {
	token = strings.TrimSpace(token)

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// AuthMiddleware requires a bearer token whose hash matches tokenHash.
// An empty tokenHash disables authentication.
func AuthMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w)
				return
			}

			presented := HashToken(token)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(tokenHash)) != 1 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: "Unauthorized",
		Code:  "401",
	})
}
