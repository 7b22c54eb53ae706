package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/quizgen/internal/model"
)

const sessionCookieName = "quiz_session"

// sessionMiddleware makes sure every request carries a quiz session ID,
// issuing a new cookie when the browser has none.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			slog.Debug("new quiz session", "session", id)
		}

		// Refresh on every request so the cookie outlives active sessions.
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     h.cookiePath(),
			MaxAge:   int(h.config.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.config.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := model.ContextWithSessionID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BasePathMiddleware stores the configured URL prefix in the request context
// for templates.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminToken checks the bearer token of /admin requests.
func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if len(token) != len(h.config.AdminToken) || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) != 1 {
			slog.Warn("admin token mismatch", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}
