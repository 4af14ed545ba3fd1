package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/labstack/echo/v4"
)

const (
	SessionCookie = "__session"
	sessionKey    = "auth.session"
)

// SessionHook runs after a token was verified and may enrich the session.
type SessionHook func(ctx context.Context, session *Session) error

// UserStore is the part of the database EnsureUser needs.
type UserStore interface {
	UpsertUser(ctx context.Context, id, email, defaultRole string) (*database.User, error)
}

// EnsureUser creates the local user on first sight and copies its platform role
// into the session.
func EnsureUser(store UserStore, defaultRole string) SessionHook {
	return func(ctx context.Context, session *Session) error {
		user, err := store.UpsertUser(ctx, session.UserID, session.Email, defaultRole)
		if err != nil {
			return err
		}
		session.Role = user.Role
		return nil
	}
}

// RequireSession rejects requests without a valid session token with 401.
func RequireSession(verifier *Verifier, hooks ...SessionHook) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := tokenFromRequest(ctx.Request())
			if token == "" {
				return unauthorized(ctx)
			}
			session, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("RequireSession: rejected session token", "path", ctx.Path(), "error", err)
				return unauthorized(ctx)
			}
			for _, hook := range hooks {
				if err := hook(ctx.Request().Context(), session); err != nil {
					slog.Error("RequireSession: session hook failed",
						"status", http.StatusInternalServerError, "user", session.UserID, "error", err)
					return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
				}
			}
			ctx.Set(sessionKey, session)
			return next(ctx)
		}
	}
}

// SessionFrom returns the session stored by RequireSession, or nil.
func SessionFrom(ctx echo.Context) *Session {
	session, _ := ctx.Get(sessionKey).(*Session)
	return session
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(ctx echo.Context) error {
	return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}
