// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/logger"
	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/middleware"
	"github.com/hitoshi/sessiongate/internal/model"
)

// HX-Triggerで発火させるクライアント側イベント。
const (
	triggerReloadNavbar = "ReloadNavbar"
	triggerLoggedOut    = "ReloadNavbar, LogoutContent"
)

// LoginService は認証ハンドラーが必要とするログイン・ログアウト操作。
type LoginService interface {
	Login(ctx context.Context, credential string) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// SessionService はトークン更新と管理画面が必要とするセッション操作。
type SessionService interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Rotate(ctx context.Context, s *model.Session, force bool) (*model.Session, error)
	List(ctx context.Context) ([]*model.Session, error)
}

// TokenVerifier はセッションに紐づくトークンの照合インターフェース。
type TokenVerifier interface {
	VerifyCSRF(submitted string, s *model.Session) error
	VerifyUserBinding(submitted string, s *model.Session) error
}

// CleanupTrigger は期限切れセッション削除のバックグラウンド起動。
type CleanupTrigger interface {
	Trigger() bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie   CookieConfig
	ClientID string // IdPのクライアントID（ログインボタン描画用）
	LoginURL string // ログインボタンの送信先
}

// AuthHandler はログイン、ログアウト、セッション維持のHTTPハンドラー。
type AuthHandler struct {
	service  LoginService
	sessions SessionService
	gate     middleware.Authorizer
	tokens   TokenVerifier
	cleanup  CleanupTrigger
	metrics  metrics.MetricsCollector
	config   AuthHandlerConfig
	cookies  cookieJar
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service LoginService,
	sessions SessionService,
	gate middleware.Authorizer,
	tokens TokenVerifier,
	cleanup CleanupTrigger,
	mc metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		gate:     gate,
		tokens:   tokens,
		cleanup:  cleanup,
		metrics:  mc,
		config:   config,
		cookies:  newCookieJar(config.Cookie),
	}
}

// messageResponse は操作結果を返すだけのレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// Login はIdPのクレデンシャルでログインし、セッションCookieを発行する。
// POST /auth/login (form: credential)
//
// 失敗時はCookieを発行せず、text/plainでエラーを返す。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	credential := r.PostFormValue("credential")
	if credential == "" {
		http.Error(w, "credential is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Login(r.Context(), credential)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrVerificationFailed):
			slog.Warn("IDトークンの検証に失敗しました", slog.String("error", err.Error()))
			http.Error(w, "failed to validate identity token", http.StatusUnauthorized)
		case errors.Is(err, model.ErrDisabled):
			http.Error(w, "user disabled", http.StatusForbidden)
		default:
			slog.Error("login failed", slog.String("error", err.Error()))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.cookies.issue(w, result.Session)
	w.Header().Set(middleware.HXTriggerHeader, triggerReloadNavbar)
	writeJSON(w, http.StatusOK, map[string]string{"authenticated_as": result.User.Name})
}

// Logout はセッションを破棄し、Cookieを削除する。
// GET /auth/logout (HX-Request必須)
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.SessionIDFromRequest(r)); err != nil {
		slog.Error("logout failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookies.clear(w)
	w.Header().Set(middleware.HXTriggerHeader, triggerLoggedOut)
	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// refreshResponse はトークン更新の結果。
type refreshResponse struct {
	OK        bool   `json:"ok"`
	NewToken  string `json:"new_token"`
	CSRFToken string `json:"csrf_token"`
}

// RefreshToken はCSRFトークンとユーザートークンを照合したうえでセッションを更新する。
// 残り有効期間が半分を切っている場合のみ新しいセッションに差し替える。
// GET /auth/refresh_token (HX-Request必須, X-CSRF-Token, X-User-Token)
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromRequest(r)
	if sessionID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if sess == nil {
		h.cookies.clear(w)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	if err := h.tokens.VerifyCSRF(r.Header.Get(middleware.CSRFHeaderName), sess); err != nil {
		h.rejectToken(w, sess, metrics.KindCSRF, err)
		return
	}
	if err := h.tokens.VerifyUserBinding(r.Header.Get(middleware.UserTokenHeaderName), sess); err != nil {
		h.rejectToken(w, sess, metrics.KindUserToken, err)
		return
	}

	rotated, err := h.sessions.Rotate(r.Context(), sess, false)
	if err != nil {
		slog.Error("failed to rotate session",
			logger.SessionIDAttr(sess.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if rotated.ID != sess.ID {
		h.cookies.issue(w, rotated)
		w.Header().Set(middleware.HXTriggerHeader, triggerReloadNavbar)
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		OK:        true,
		NewToken:  rotated.ID,
		CSRFToken: rotated.CSRFToken,
	})
}

func (h *AuthHandler) rejectToken(w http.ResponseWriter, sess *model.Session, kind string, err error) {
	h.metrics.RecordTokenMismatch(kind)
	slog.Warn("トークンがセッションと一致しません",
		slog.String("kind", kind),
		slog.Int64("user_id", sess.UserID),
	)
	h.cookies.clear(w)
	status, apiErr := middleware.ErrorStatus(err)
	if apiErr == nil {
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// Check はセッションが有効かどうかを返す。
// 有効なら204、無効ならCookieを削除してログアウトイベントを発火させる。
// GET /auth/check (HX-Request必須)
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	_, err := h.gate.RequireUser(r.Context(), middleware.SessionIDFromRequest(r))
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !isLoggedOut(err) {
		slog.Error("failed to check session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookies.clear(w)
	w.Header().Set(middleware.HXTriggerHeader, triggerLoggedOut)
	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// navbarResponse はナビゲーションバーの描画に必要な状態。
type navbarResponse struct {
	Authenticated bool   `json:"authenticated"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Picture       string `json:"picture,omitempty"`
	LogoutURL     string `json:"logout_url,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	LoginURL      string `json:"login_url,omitempty"`
}

// Navbar はログイン状態に応じたナビゲーションバーの状態を返す。
// 未ログインの呼び出しでは期限切れセッションの削除をバックグラウンドで起動する。
// GET /auth/navbar (HX-Request必須)
func (h *AuthHandler) Navbar(w http.ResponseWriter, r *http.Request) {
	p, err := h.gate.RequireUser(r.Context(), middleware.SessionIDFromRequest(r))
	if err == nil {
		resp := navbarResponse{
			Authenticated: true,
			Name:          p.User.Name,
			Email:         p.User.Email,
			LogoutURL:     "/auth/logout",
		}
		if p.User.Picture != nil {
			resp.Picture = *p.User.Picture
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if !isLoggedOut(err) {
		slog.Error("failed to resolve navbar state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.cleanup.Trigger()
	writeJSON(w, http.StatusOK, navbarResponse{
		ClientID: h.config.ClientID,
		LoginURL: h.config.LoginURL,
	})
}

// CleanupSessions は期限切れセッションの削除をバックグラウンドで起動する。
// GET /auth/cleanup_sessions
func (h *AuthHandler) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionIDFromRequest(r) == "" {
		writeJSON(w, http.StatusOK, messageResponse{Message: "ログインしていないためクリーンアップは実行されません。"})
		return
	}

	if !h.cleanup.Trigger() {
		writeJSON(w, http.StatusOK, messageResponse{Message: "クリーンアップは実行中です。"})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "クリーンアップを開始しました。"})
}

// isLoggedOut は未ログイン扱いとするエラーかどうかを判定する。
func isLoggedOut(err error) bool {
	return errors.Is(err, model.ErrNotAuthenticated) || errors.Is(err, model.ErrDisabled)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
