package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/labstack/echo/v4"
)

type stubUserStore struct {
	role string
	err  error
	seen []string
}

func (s *stubUserStore) UpsertUser(_ context.Context, id, email, defaultRole string) (*database.User, error) {
	s.seen = append(s.seen, id)
	if s.err != nil {
		return nil, s.err
	}
	role := s.role
	if role == "" {
		role = defaultRole
	}
	return &database.User{ID: id, Email: email, Role: role}, nil
}

func newTestEcho(t *testing.T, store UserStore) *echo.Echo {
	t.Helper()
	v, err := NewHMACVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("NewHMACVerifier error: %v", err)
	}
	e := echo.New()
	g := e.Group("/api", RequireSession(v, EnsureUser(store, "USER")))
	g.GET("/me", func(ctx echo.Context) error {
		s := SessionFrom(ctx)
		return ctx.JSON(http.StatusOK, map[string]string{"id": s.UserID, "role": s.Role})
	})
	return e
}

func TestRequireSession(t *testing.T) {
	store := &stubUserStore{role: "ADMIN"}
	e := newTestEcho(t, store)
	token, _ := SignSessionToken(testSecret, "", "user_1", "a@example.com", time.Minute)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"invalid bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, `{"id":"user_1","role":"ADMIN"}`},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusOK, `{"id":"user_1","role":"ADMIN"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := rec.Body.String(); got != tt.body+"\n" {
				t.Fatalf("body = %q, want %q", got, tt.body)
			}
		})
	}
	if len(store.seen) != 2 {
		t.Fatalf("expected user upserted for both authenticated requests, got %v", store.seen)
	}
}

func TestRequireSession_HookFailure(t *testing.T) {
	e := newTestEcho(t, &stubUserStore{err: errors.New("db down")})
	token, _ := SignSessionToken(testSecret, "", "user_1", "", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
