package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/sessiongate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// ErrorStatus はドメインエラーをHTTPステータスとAPIErrorに対応付ける。
// 分類できないエラーはnilのAPIErrorと500を返す。
func ErrorStatus(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, model.ErrNotAuthenticated):
		return http.StatusUnauthorized, model.NewNotAuthenticatedError()
	case errors.Is(err, model.ErrDisabled):
		return http.StatusForbidden, model.NewUserDisabledError()
	case errors.Is(err, model.ErrAdminRequired):
		return http.StatusForbidden, model.NewAdminRequiredError()
	case errors.Is(err, model.ErrCSRFMismatch):
		return http.StatusForbidden, model.NewCSRFMismatchError()
	case errors.Is(err, model.ErrUserTokenMismatch):
		return http.StatusForbidden, model.NewUserTokenMismatchError()
	default:
		return http.StatusInternalServerError, nil
	}
}
