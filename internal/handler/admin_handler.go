package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessiongate/internal/middleware"
	"github.com/hitoshi/sessiongate/internal/model"
)

// AdminHandlerConfig は管理・デバッグ用ハンドラーの設定。
type AdminHandlerConfig struct {
	Cookie       CookieConfig
	DocsPath     string // 管理者ログイン後のリダイレクト先
	OriginServer string
	ClientID     string
	SessionStore string
}

// AdminHandler は管理者ログインとデバッグ用エンドポイントのHTTPハンドラー。
type AdminHandler struct {
	sessions SessionService
	config   AdminHandlerConfig
	cookies  cookieJar
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(sessions SessionService, config AdminHandlerConfig) *AdminHandler {
	if config.DocsPath == "" {
		config.DocsPath = "/docs"
	}
	return &AdminHandler{
		sessions: sessions,
		config:   config,
		cookies:  newCookieJar(config.Cookie),
	}
}

// adminLoginFormResponse は管理者ログインフォームの送信先と項目。
type adminLoginFormResponse struct {
	Message string   `json:"message"`
	Action  string   `json:"action"`
	Method  string   `json:"method"`
	Fields  []string `json:"fields"`
}

// LoginForm は管理者ログインの送信方法を返す。
// 管理者権限が必要なページからのリダイレクト先。
// GET /admin/login
func (h *AdminHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, adminLoginFormResponse{
		Message: "管理者としてログインしてください。",
		Action:  r.URL.Path,
		Method:  http.MethodPost,
		Fields:  []string{"email", "apikey"},
	})
}

// Login はAPIキー（既存のセッションID）とメールアドレスで管理画面用のCookieを発行する。
// POST /admin/login (form: email, apikey)
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	apiKey := r.PostFormValue("apikey")
	if email == "" || apiKey == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidAPIKeyError())
		return
	}

	sess, err := h.sessions.Get(r.Context(), apiKey)
	if err != nil {
		slog.Error("failed to load session for admin login", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if sess == nil || sess.Email != email {
		slog.Warn("管理者ログインに失敗しました")
		h.cookies.clearOne(w, middleware.SessionCookieName, true)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidAPIKeyError())
		return
	}

	h.cookies.issue(w, sess)
	http.Redirect(w, r, h.config.DocsPath, http.StatusSeeOther)
}

// sessionView はデバッグ表示用のセッション。
type sessionView struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Expires   int64  `json:"expires"`
}

func newSessionView(s *model.Session) sessionView {
	return sessionView{SessionID: s.ID, UserID: s.UserID, Email: s.Email, Expires: s.ExpiresAt}
}

// userView はデバッグ表示用のユーザー。
type userView struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Disabled bool    `json:"disabled"`
	Admin    bool    `json:"admin"`
	Picture  *string `json:"picture,omitempty"`
}

// ListSessions はセッション一覧を返す。件数はストア側で上限がかかる。
// GET /debug/sessions (管理者)
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

// Me はログイン中のユーザーとセッションを返す。
// GET /debug/me (ログイン必須)
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": userView{
			ID:       p.User.ID,
			Name:     p.User.Name,
			Email:    p.User.Email,
			Disabled: p.User.Disabled,
			Admin:    p.User.Admin,
			Picture:  p.User.Picture,
		},
		"session": newSessionView(p.Session),
	})
}

// EchoCSRF はCSRFミドルウェアを通過したトークンを返す。
// POST /debug/csrf (ログイン必須, X-CSRF-Token または csrf_token)
func (h *AdminHandler) EchoCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"csrf_token": middleware.SubmittedCSRFToken(r),
	})
}

// Env は秘密を含まない設定値を返す。
// GET /debug/env (管理者)
func (h *AdminHandler) Env(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"origin_server":    h.config.OriginServer,
		"google_client_id": h.config.ClientID,
		"session_store":    h.config.SessionStore,
		"session_max_age":  h.config.Cookie.MaxAge,
	})
}
