package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireBearer guards every path except open behind "Authorization: Bearer
// <token>". An empty token disables the check.
func requireBearer(token string, open ...string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	// Comparing digests keeps the comparison independent of the token length.
	want := sha256.Sum256([]byte(token))
	exempt := make(map[string]bool, len(open))
	for _, p := range open {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := bearerToken(r)
			if !ok {
				deny(w)
				return
			}
			sum := sha256.Sum256([]byte(got))
			if subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
				deny(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="seedkeeper"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
