package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/model"
)

// --- モック定義 ---

type mockLoginService struct {
	loginFn  func(ctx context.Context, credential string) (*auth.LoginResult, error)
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockLoginService) Login(ctx context.Context, credential string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, credential)
	}
	return nil, model.ErrVerificationFailed
}

func (m *mockLoginService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockSessionService struct {
	getFn    func(ctx context.Context, id string) (*model.Session, error)
	rotateFn func(ctx context.Context, s *model.Session, force bool) (*model.Session, error)
	listFn   func(ctx context.Context) ([]*model.Session, error)
	calls    atomic.Int32
}

func (m *mockSessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	m.calls.Add(1)
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionService) Rotate(ctx context.Context, s *model.Session, force bool) (*model.Session, error) {
	m.calls.Add(1)
	if m.rotateFn != nil {
		return m.rotateFn(ctx, s, force)
	}
	return s, nil
}

func (m *mockSessionService) List(ctx context.Context) ([]*model.Session, error) {
	m.calls.Add(1)
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockGate struct {
	requireUserFn  func(ctx context.Context, sessionID string) (*auth.Principal, error)
	requireAdminFn func(ctx context.Context, sessionID string) (*auth.Principal, error)
}

func (m *mockGate) RequireUser(ctx context.Context, sessionID string) (*auth.Principal, error) {
	if m.requireUserFn != nil {
		return m.requireUserFn(ctx, sessionID)
	}
	return nil, model.ErrNotAuthenticated
}

func (m *mockGate) RequireAdmin(ctx context.Context, sessionID string) (*auth.Principal, error) {
	if m.requireAdminFn != nil {
		return m.requireAdminFn(ctx, sessionID)
	}
	return nil, model.ErrNotAuthenticated
}

type mockCleanup struct {
	triggered atomic.Int32
}

func (m *mockCleanup) Trigger() bool {
	m.triggered.Add(1)
	return true
}

// --- ヘルパー ---

const testUserEmail = "user01@example.com"

func testSession(id string) *model.Session {
	return &model.Session{
		ID:        id,
		CSRFToken: "csrf-" + id,
		UserID:    42,
		Email:     testUserEmail,
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
	}
}

func testUser() *model.User {
	return &model.User{ID: 42, Name: "User 01", Email: testUserEmail}
}

var testCookieConfig = CookieConfig{Domain: "", MaxAge: 600}

func newTestAuthHandler(svc LoginService, sessions SessionService, gate *mockGate, cleanup CleanupTrigger) *AuthHandler {
	return NewAuthHandler(svc, sessions, gate, auth.NewCSRFGuard(), cleanup, nil, AuthHandlerConfig{
		Cookie:   testCookieConfig,
		ClientID: "test-client-id",
		LoginURL: "https://app.example.com/auth/login",
	})
}

func cookiesByName(resp *http.Response) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range resp.Cookies() {
		out[c.Name] = c
	}
	return out
}

func assertCookiesCleared(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	cookies := cookiesByName(w.Result())
	for _, name := range []string{"session_id", "csrf_token", "user_token"} {
		c, ok := cookies[name]
		if !ok {
			t.Errorf("cookie %q should be cleared", name)
			continue
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("cookie %q: MaxAge = %d, Value = %q; want cleared", name, c.MaxAge, c.Value)
		}
	}
}

func hxRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("HX-Request", "true")
	return req
}
