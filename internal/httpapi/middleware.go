package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/httpx"
	"bookhold/internal/membership"

	"github.com/go-chi/chi/v5/middleware"
)

// authenticate attaches the caller to the request when a bearer token is
// present. A present but invalid token is rejected outright.
func authenticate(tokens *membership.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.WriteError(w, r, apperror.Unauthorized("authorization must be a bearer token"))
				return
			}

			id, admin, err := tokens.Parse(strings.TrimSpace(token))
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			ctx := httpx.WithPrincipal(r.Context(), httpx.Principal{AccountID: id, Admin: admin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := httpx.PrincipalFrom(r.Context()); !ok {
			httpx.WriteError(w, r, apperror.Unauthorized("login required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := httpx.PrincipalFrom(r.Context())
		if !ok {
			httpx.WriteError(w, r, apperror.Unauthorized("login required"))
			return
		}
		if !p.Admin {
			httpx.WriteError(w, r, apperror.Forbidden("staff only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
