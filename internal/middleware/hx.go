package middleware

import (
	"net/http"

	"github.com/hitoshi/sessiongate/internal/model"
)

// HXRequestHeader はページ内の部分更新リクエストであることを示すヘッダー。
const HXRequestHeader = "HX-Request"

// HXTriggerHeader はクライアント側のイベントを発火させるレスポンスヘッダー。
const HXTriggerHeader = "HX-Trigger"

// NewHXOnlyMiddleware はHX-Requestヘッダーの無いリクエストを400で拒否するミドルウェアを返す。
// 後続のハンドラーやストアには到達させない。
func NewHXOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(HXRequestHeader) == "" {
				WriteErrorResponse(w, http.StatusBadRequest, model.NewHXRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
