package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/solarkbridge/pkg/log"
)

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware requires a valid bearer ID token when an OIDC audience is
// configured. Without one every request is let through and writes are only
// gated by allow-write-access.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		idToken, err := s.verifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authSubject", idToken.Subject)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
