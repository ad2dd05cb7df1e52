package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/middleware"
	"github.com/hitoshi/sessiongate/internal/model"
)

const testAdminEmail = "admin01@example.com"

func adminLoginRequest(email, apiKey string) *http.Request {
	form := url.Values{"email": {email}, "apikey": {apiKey}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func newTestAdminHandler(sessions SessionService) *AdminHandler {
	return NewAdminHandler(sessions, AdminHandlerConfig{
		Cookie:       testCookieConfig,
		OriginServer: "https://app.example.com",
		ClientID:     "test-client-id",
		SessionStore: "redis",
	})
}

func TestAdminHandler_Login_Success_RedirectsToDocs(t *testing.T) {
	admin := testSession("admin-key")
	admin.Email = testAdminEmail
	sessions := &mockSessionService{
		getFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "admin-key" {
				return admin, nil
			}
			return nil, nil
		},
	}
	h := newTestAdminHandler(sessions)

	w := httptest.NewRecorder()
	h.Login(w, adminLoginRequest(testAdminEmail, "admin-key"))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/docs" {
		t.Errorf("Location = %q, want %q", loc, "/docs")
	}
	cookies := cookiesByName(w.Result())
	if c := cookies["session_id"]; c == nil || c.Value != "admin-key" || !c.HttpOnly {
		t.Errorf("session_id cookie = %+v", c)
	}
	if c := cookies["csrf_token"]; c == nil || c.Value != admin.CSRFToken {
		t.Errorf("csrf_token cookie = %+v", c)
	}
	if c := cookies["user_token"]; c == nil || c.Value != auth.UserToken(testAdminEmail) {
		t.Errorf("user_token cookie = %+v", c)
	}
}

func TestAdminHandler_Login_Rejections(t *testing.T) {
	admin := testSession("admin-key")
	admin.Email = testAdminEmail

	tests := []struct {
		name       string
		email      string
		apiKey     string
		getErr     error
		wantStatus int
	}{
		{"missing fields", "", "", nil, http.StatusBadRequest},
		{"unknown key", testAdminEmail, "nope", nil, http.StatusUnauthorized},
		{"email mismatch", "other@example.com", "admin-key", nil, http.StatusUnauthorized},
		{"store failure", testAdminEmail, "admin-key", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessionService{
				getFn: func(ctx context.Context, id string) (*model.Session, error) {
					if tt.getErr != nil {
						return nil, tt.getErr
					}
					if id == "admin-key" {
						return admin, nil
					}
					return nil, nil
				},
			}
			h := newTestAdminHandler(sessions)

			w := httptest.NewRecorder()
			h.Login(w, adminLoginRequest(tt.email, tt.apiKey))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			cookies := cookiesByName(w.Result())
			if c := cookies["csrf_token"]; c != nil {
				t.Errorf("csrf_token cookie should not be issued, got %+v", c)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if c := cookies["session_id"]; c == nil || c.MaxAge >= 0 {
					t.Errorf("session_id cookie should be cleared, got %+v", c)
				}
			}
		})
	}
}

func TestAdminHandler_ListSessions(t *testing.T) {
	sessions := &mockSessionService{
		listFn: func(ctx context.Context) ([]*model.Session, error) {
			return []*model.Session{testSession("a"), testSession("b")}, nil
		},
	}
	h := newTestAdminHandler(sessions)

	w := httptest.NewRecorder()
	h.ListSessions(w, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))

	var body []sessionView
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body) != 2 || body[0].SessionID != "a" || body[1].UserID != 42 {
		t.Errorf("body = %+v", body)
	}
}

func TestAdminHandler_ListSessions_StoreError(t *testing.T) {
	sessions := &mockSessionService{
		listFn: func(ctx context.Context) ([]*model.Session, error) {
			return nil, errors.New("scan failed")
		},
	}
	h := newTestAdminHandler(sessions)

	w := httptest.NewRecorder()
	h.ListSessions(w, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAdminHandler_Me(t *testing.T) {
	h := newTestAdminHandler(&mockSessionService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/debug/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without principal: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/me", nil)
	req = req.WithContext(middleware.ContextWithPrincipal(req.Context(), &auth.Principal{
		User:    testUser(),
		Session: testSession("sess-1"),
	}))
	w = httptest.NewRecorder()
	h.Me(w, req)

	var body struct {
		User    userView    `json:"user"`
		Session sessionView `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.User.ID != 42 || body.User.Email != testUserEmail || body.Session.SessionID != "sess-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestAdminHandler_Env_OmitsSecrets(t *testing.T) {
	h := newTestAdminHandler(&mockSessionService{})

	w := httptest.NewRecorder()
	h.Env(w, httptest.NewRequest(http.MethodGet, "/debug/env", nil))

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["origin_server"] != "https://app.example.com" || body["google_client_id"] != "test-client-id" {
		t.Errorf("body = %v", body)
	}
	for k := range body {
		if strings.Contains(strings.ToLower(k), "password") || strings.Contains(strings.ToLower(k), "database") {
			t.Errorf("env echo should not expose %q", k)
		}
	}
}

func TestAdminHandler_LoginForm(t *testing.T) {
	h := newTestAdminHandler(&mockSessionService{})

	w := httptest.NewRecorder()
	h.LoginForm(w, httptest.NewRequest(http.MethodGet, "/admin/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body adminLoginFormResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Action != "/admin/login" || body.Method != http.MethodPost {
		t.Errorf("action/method = %q %q", body.Action, body.Method)
	}
	if len(body.Fields) != 2 || body.Fields[0] != "email" || body.Fields[1] != "apikey" {
		t.Errorf("fields = %v", body.Fields)
	}
}
