// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dvrsn/listpub/internal/log"
)

// authMiddleware enforces bearer-token authentication. Without a configured
// token the endpoint fails closed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "auth")

		s.mu.RLock()
		token := s.cfg.APIToken
		s.mu.RUnlock()

		if token == "" {
			logger.Error().
				Str("event", "auth.fail_closed").
				Msg("no api token configured, denying access")
			unauthorized(w)
			return
		}

		reqToken := bearerToken(r)
		if reqToken == "" {
			logger.Warn().
				Str("event", "auth.missing_header").
				Msg("authorization header missing")
			unauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(reqToken), []byte(token)) != 1 {
			logger.Warn().
				Str("event", "auth.invalid_token").
				Msg("invalid api token")
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
