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
	"github.com/hitoshi/sessiongate/internal/model"
)

func loginRequest(credential string) *http.Request {
	form := url.Values{"credential": {credential}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAuthHandler_Login_Success_SetsCookies(t *testing.T) {
	sess := testSession("sess-1")
	svc := &mockLoginService{
		loginFn: func(ctx context.Context, credential string) (*auth.LoginResult, error) {
			if credential != "id-token" {
				t.Errorf("credential = %q, want %q", credential, "id-token")
			}
			return &auth.LoginResult{User: testUser(), Session: sess}, nil
		},
	}
	h := newTestAuthHandler(svc, &mockSessionService{}, &mockGate{}, &mockCleanup{})

	w := httptest.NewRecorder()
	h.Login(w, loginRequest("id-token"))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("HX-Trigger"); got != "ReloadNavbar" {
		t.Errorf("HX-Trigger = %q, want %q", got, "ReloadNavbar")
	}

	cookies := cookiesByName(resp)
	sc := cookies["session_id"]
	if sc == nil || sc.Value != "sess-1" || !sc.HttpOnly || !sc.Secure || sc.SameSite != http.SameSiteLaxMode || sc.MaxAge != 600 {
		t.Errorf("session_id cookie = %+v", sc)
	}
	if sc != nil && sc.Expires.IsZero() {
		t.Error("session_id cookie should carry Expires")
	}
	if c := cookies["csrf_token"]; c == nil || c.Value != sess.CSRFToken || c.HttpOnly {
		t.Errorf("csrf_token cookie = %+v", c)
	}
	if c := cookies["user_token"]; c == nil || c.Value != auth.UserToken(testUserEmail) || c.HttpOnly {
		t.Errorf("user_token cookie = %+v", c)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["authenticated_as"] != "User 01" {
		t.Errorf("authenticated_as = %q", body["authenticated_as"])
	}
}

func TestAuthHandler_Login_Failures_NoCookies(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		err        error
		wantStatus int
	}{
		{"missing credential", "", nil, http.StatusBadRequest},
		{"verification failed", "bad-aud", model.ErrVerificationFailed, http.StatusUnauthorized},
		{"disabled user", "token", model.ErrDisabled, http.StatusForbidden},
		{"internal", "token", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLoginService{
				loginFn: func(ctx context.Context, credential string) (*auth.LoginResult, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc, &mockSessionService{}, &mockGate{}, &mockCleanup{})

			w := httptest.NewRecorder()
			h.Login(w, loginRequest(tt.credential))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Errorf("no cookies should be set, got %v", w.Result().Cookies())
			}
		})
	}
}

func TestAuthHandler_Logout_ClearsCookies(t *testing.T) {
	var deleted string
	svc := &mockLoginService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc, &mockSessionService{}, &mockGate{}, &mockCleanup{})

	req := hxRequest(http.MethodGet, "/auth/logout")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted session = %q, want %q", deleted, "sess-1")
	}
	if got := w.Header().Get("HX-Trigger"); got != "ReloadNavbar, LogoutContent" {
		t.Errorf("HX-Trigger = %q", got)
	}
	assertCookiesCleared(t, w)
}

func TestAuthHandler_Logout_StoreError_Returns500(t *testing.T) {
	svc := &mockLoginService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("redis down")
		},
	}
	h := newTestAuthHandler(svc, &mockSessionService{}, &mockGate{}, &mockCleanup{})

	req := hxRequest(http.MethodGet, "/auth/logout")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func refreshRequest(sessionID, csrf, userToken string) *http.Request {
	req := hxRequest(http.MethodGet, "/auth/refresh_token")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	req.Header.Set("X-CSRF-Token", csrf)
	req.Header.Set("X-User-Token", userToken)
	return req
}

func TestAuthHandler_RefreshToken_NoCookie_Returns204(t *testing.T) {
	sessions := &mockSessionService{}
	h := newTestAuthHandler(&mockLoginService{}, sessions, &mockGate{}, &mockCleanup{})

	w := httptest.NewRecorder()
	h.RefreshToken(w, refreshRequest("", "", ""))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if sessions.calls.Load() != 0 {
		t.Error("store should not be accessed without a session cookie")
	}
}

func TestAuthHandler_RefreshToken_NotRotated_KeepsCookies(t *testing.T) {
	sess := testSession("sess-1")
	sessions := &mockSessionService{
		getFn: func(ctx context.Context, id string) (*model.Session, error) { return sess, nil },
		rotateFn: func(ctx context.Context, s *model.Session, force bool) (*model.Session, error) {
			if force {
				t.Error("refresh should not force rotation")
			}
			return s, nil
		},
	}
	h := newTestAuthHandler(&mockLoginService{}, sessions, &mockGate{}, &mockCleanup{})

	w := httptest.NewRecorder()
	h.RefreshToken(w, refreshRequest("sess-1", sess.CSRFToken, auth.UserToken(testUserEmail)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookies should not be re-issued when the session is unchanged")
	}
	if got := w.Header().Get("HX-Trigger"); got != "" {
		t.Errorf("HX-Trigger = %q, want empty", got)
	}

	var body refreshResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.OK || body.NewToken != "sess-1" || body.CSRFToken != sess.CSRFToken {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_RefreshToken_Rotated_ReissuesCookies(t *testing.T) {
	sess := testSession("sess-1")
	rotated := testSession("sess-2")
	sessions := &mockSessionService{
		getFn: func(ctx context.Context, id string) (*model.Session, error) { return sess, nil },
		rotateFn: func(ctx context.Context, s *model.Session, force bool) (*model.Session, error) {
			return rotated, nil
		},
	}
	h := newTestAuthHandler(&mockLoginService{}, sessions, &mockGate{}, &mockCleanup{})

	w := httptest.NewRecorder()
	h.RefreshToken(w, refreshRequest("sess-1", sess.CSRFToken, auth.UserToken(testUserEmail)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("HX-Trigger"); got != "ReloadNavbar" {
		t.Errorf("HX-Trigger = %q, want %q", got, "ReloadNavbar")
	}
	cookies := cookiesByName(w.Result())
	if c := cookies["session_id"]; c == nil || c.Value != "sess-2" {
		t.Errorf("session_id cookie = %+v, want sess-2", c)
	}
	if c := cookies["csrf_token"]; c == nil || c.Value != rotated.CSRFToken {
		t.Errorf("csrf_token cookie = %+v", c)
	}
}

func TestAuthHandler_RefreshToken_Rejections(t *testing.T) {
	sess := testSession("sess-1")
	tests := []struct {
		name       string
		stored     *model.Session
		csrf       string
		userToken  string
		wantStatus int
		wantCode   string
	}{
		{"session missing", nil, "x", "y", http.StatusUnauthorized, model.ErrCodeNotAuthenticated},
		{"csrf mismatch", sess, "xyz", auth.UserToken(testUserEmail), http.StatusForbidden, model.ErrCodeCSRFMismatch},
		{"user token mismatch", sess, sess.CSRFToken, auth.UserToken("other@example.com"), http.StatusForbidden, model.ErrCodeUserTokenMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessionService{
				getFn: func(ctx context.Context, id string) (*model.Session, error) { return tt.stored, nil },
				rotateFn: func(ctx context.Context, s *model.Session, force bool) (*model.Session, error) {
					t.Error("Rotate should not be called")
					return s, nil
				},
			}
			h := newTestAuthHandler(&mockLoginService{}, sessions, &mockGate{}, &mockCleanup{})

			w := httptest.NewRecorder()
			h.RefreshToken(w, refreshRequest("sess-1", tt.csrf, tt.userToken))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			assertCookiesCleared(t, w)
		})
	}
}

func TestAuthHandler_Check(t *testing.T) {
	t.Run("valid session returns 204", func(t *testing.T) {
		gate := &mockGate{
			requireUserFn: func(ctx context.Context, sessionID string) (*auth.Principal, error) {
				return &auth.Principal{User: testUser(), Session: testSession(sessionID)}, nil
			},
		}
		h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, gate, &mockCleanup{})

		req := hxRequest(http.MethodGet, "/auth/check")
		req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
		w := httptest.NewRecorder()
		h.Check(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	t.Run("logged out triggers events", func(t *testing.T) {
		h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, &mockGate{}, &mockCleanup{})

		w := httptest.NewRecorder()
		h.Check(w, hxRequest(http.MethodGet, "/auth/check"))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Header().Get("HX-Trigger"); got != "ReloadNavbar, LogoutContent" {
			t.Errorf("HX-Trigger = %q", got)
		}
		assertCookiesCleared(t, w)
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		gate := &mockGate{
			requireUserFn: func(ctx context.Context, sessionID string) (*auth.Principal, error) {
				return nil, errors.New("connection refused")
			},
		}
		h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, gate, &mockCleanup{})

		w := httptest.NewRecorder()
		h.Check(w, hxRequest(http.MethodGet, "/auth/check"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

func TestAuthHandler_Navbar_Authenticated(t *testing.T) {
	picture := "https://lh3.googleusercontent.com/a/photo.jpg"
	user := testUser()
	user.Picture = &picture
	gate := &mockGate{
		requireUserFn: func(ctx context.Context, sessionID string) (*auth.Principal, error) {
			return &auth.Principal{User: user, Session: testSession(sessionID)}, nil
		},
	}
	cleanup := &mockCleanup{}
	h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, gate, cleanup)

	req := hxRequest(http.MethodGet, "/auth/navbar")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	w := httptest.NewRecorder()
	h.Navbar(w, req)

	var body navbarResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.Authenticated || body.Name != "User 01" || body.Picture != picture {
		t.Errorf("body = %+v", body)
	}
	if body.ClientID != "" {
		t.Error("login data should not be returned to authenticated users")
	}
	if cleanup.triggered.Load() != 0 {
		t.Error("cleanup should not be triggered for authenticated users")
	}
}

func TestAuthHandler_Navbar_Anonymous_TriggersCleanup(t *testing.T) {
	cleanup := &mockCleanup{}
	h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, &mockGate{}, cleanup)

	w := httptest.NewRecorder()
	h.Navbar(w, hxRequest(http.MethodGet, "/auth/navbar"))

	var body navbarResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Authenticated {
		t.Error("anonymous caller should not be authenticated")
	}
	if body.ClientID != "test-client-id" || body.LoginURL != "https://app.example.com/auth/login" {
		t.Errorf("body = %+v", body)
	}
	if cleanup.triggered.Load() != 1 {
		t.Errorf("cleanup triggered = %d, want 1", cleanup.triggered.Load())
	}
}

func TestAuthHandler_CleanupSessions(t *testing.T) {
	cleanup := &mockCleanup{}
	h := newTestAuthHandler(&mockLoginService{}, &mockSessionService{}, &mockGate{}, cleanup)

	w := httptest.NewRecorder()
	h.CleanupSessions(w, httptest.NewRequest(http.MethodGet, "/auth/cleanup_sessions", nil))
	if cleanup.triggered.Load() != 0 {
		t.Error("cleanup should require a session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/cleanup_sessions", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	w = httptest.NewRecorder()
	h.CleanupSessions(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cleanup.triggered.Load() != 1 {
		t.Errorf("cleanup triggered = %d, want 1", cleanup.triggered.Load())
	}
}
