// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/model"
)

// Cookie名。session_idはHttpOnly、他の2つはスクリプトから読めるようにする。
const (
	SessionCookieName   = "session_id"
	CSRFCookieName      = "csrf_token"
	UserTokenCookieName = "user_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var principalContextKey = contextKey("principal")

// Authorizer はリクエスト主体の解決インターフェース。auth.Gateが実装する。
type Authorizer interface {
	RequireUser(ctx context.Context, sessionID string) (*auth.Principal, error)
	RequireAdmin(ctx context.Context, sessionID string) (*auth.Principal, error)
}

// SessionIDFromRequest はsession_id Cookieの値を返す。無い場合は空文字。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewRequireUserMiddleware は有効なユーザーのセッションを要求するミドルウェアを返す。
// 未認証は401、無効化ユーザーは403を返し、通過したリクエストのコンテキストに主体を注入する。
func NewRequireUserMiddleware(authz Authorizer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authz.RequireUser(r.Context(), SessionIDFromRequest(r))
			if err != nil {
				writeGateError(w, r, err, "")
				return
			}
			recordUserID(r.Context(), p.User.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// NewRequireAdminMiddleware は管理者のセッションを要求するミドルウェアを返す。
// 管理者でない場合はloginPathへ303でリダイレクトする。
func NewRequireAdminMiddleware(authz Authorizer, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authz.RequireAdmin(r.Context(), SessionIDFromRequest(r))
			if err != nil {
				writeGateError(w, r, err, loginPath)
				return
			}
			recordUserID(r.Context(), p.User.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func writeGateError(w http.ResponseWriter, r *http.Request, err error, adminLoginPath string) {
	if adminLoginPath != "" && errors.Is(err, model.ErrAdminRequired) {
		http.Redirect(w, r, adminLoginPath, http.StatusSeeOther)
		return
	}
	status, apiErr := ErrorStatus(err)
	if apiErr == nil {
		slog.Error("failed to authorize request",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, status, apiErr)
}

// PrincipalFromContext はミドルウェアが注入した主体を返す。
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに主体を注入する。
func ContextWithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext は主体のユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (int64, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User == nil {
		return 0, false
	}
	return p.User.ID, true
}
