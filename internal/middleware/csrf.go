package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/model"
)

const (
	// CSRFHeaderName はCSRFトークンを送るリクエストヘッダー。
	CSRFHeaderName = "X-CSRF-Token"
	// UserTokenHeaderName はユーザートークンを送るリクエストヘッダー。
	UserTokenHeaderName = "X-User-Token"
	// csrfFormField はフォーム送信時のCSRFトークンのフィールド名。
	csrfFormField = "csrf_token"
)

// CSRFVerifier はセッションに紐づくCSRFトークンの照合インターフェース。
type CSRFVerifier interface {
	VerifyCSRF(submitted string, s *model.Session) error
}

// NewCSRFMiddleware は状態変更メソッドでCSRFトークンを検証するミドルウェアを返す。
// トークンはX-CSRF-Tokenヘッダー、無ければcsrf_tokenフォームフィールドから読み、
// 認証済みセッションのトークンと照合する。RequireUserの後に置く。
func NewCSRFMiddleware(verifier CSRFVerifier, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			if err := verifier.VerifyCSRF(SubmittedCSRFToken(r), p.Session); err != nil {
				mc.RecordTokenMismatch(metrics.KindCSRF)
				slog.Warn("CSRF validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int64("user_id", p.User.ID),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFMismatchError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SubmittedCSRFToken はヘッダーまたはフォームから送信されたCSRFトークンを返す。
func SubmittedCSRFToken(r *http.Request) string {
	if token := r.Header.Get(CSRFHeaderName); token != "" {
		return token
	}
	return r.PostFormValue(csrfFormField)
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
