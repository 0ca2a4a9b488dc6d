package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
)

const (
	tokenCookie   = "slnp_token"
	sessionCookie = "slnp_session"
)

// APIKeyAuth is middleware that validates requests against a backend API key.
// It checks the X-API-Key header first, then falls back to Authorization: Bearer <key>.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = bearer(r)
			}

			if key == "" {
				respondError(w, http.StatusUnauthorized, "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>")
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				respondError(w, http.StatusForbidden, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenParser verifies account tokens.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// CookieOptions controls the actor cookies.
type CookieOptions struct {
	Secure     bool
	SessionTTL time.Duration
}

// ResolveActor attaches exactly one actor to every request. A valid account
// token (bearer header or cookie) yields the account. Otherwise the session
// cookie identifies an anonymous session, issuing a new one when missing.
// A bearer token that fails verification is rejected outright.
func ResolveActor(tokens TokenParser, opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := bearer(r); tok != "" {
				id, err := tokens.ParseToken(tok)
				if err != nil {
					respondError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), models.AccountActor(id))))
				return
			}

			if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
				if id, err := tokens.ParseToken(c.Value); err == nil {
					next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), models.AccountActor(id))))
					return
				}
				clearCookie(w, tokenCookie, opts.Secure)
			}

			sessionID := ""
			if c, err := r.Cookie(sessionCookie); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					sessionID = id.String()
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
				setCookie(w, sessionCookie, sessionID, opts.SessionTTL, opts.Secure)
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), models.SessionActor(sessionID))))
		})
	}
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func bearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
