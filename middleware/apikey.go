package middleware

import (
	"crypto/subtle"
	"net/http"
	"spotify-util-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// APIKeyMiddleware guards admin routes with the X-API-Key header.
// With no key configured every request is refused, so admin routes are
// never accidentally left open.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				log.Warnf("%s Admin API key not configured, refusing %s", logcolors.LogAPIKey, r.URL.Path)
				writeAPIKeyError(w, http.StatusServiceUnavailable, `{"error":"Admin API disabled","message":"Set ADMIN_API_KEY to enable admin endpoints"}`)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				log.Warnf("%s Missing API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, r.URL.Path)
				writeAPIKeyError(w, http.StatusUnauthorized, `{"error":"API key required","message":"Provide a valid API key via X-API-Key header"}`)
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				log.Warnf("%s Invalid API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, r.URL.Path)
				writeAPIKeyError(w, http.StatusUnauthorized, `{"error":"Invalid API key","message":"The provided API key is not valid"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAPIKeyError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
