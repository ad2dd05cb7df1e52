// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・セッション処理の分類用エラー。
// 呼び出し側はerrors.Isで判定する。
var (
	// ErrNotAuthenticated はセッションが無い、または無効であることを示す。
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrDisabled は有効なセッションだがアカウントが無効化されていることを示す。
	ErrDisabled = errors.New("user disabled")
	// ErrAdminRequired は認証済みだが管理者権限が無いことを示す。
	ErrAdminRequired = errors.New("admin privilege required")
	// ErrCSRFMismatch は送信されたCSRFトークンがセッションと一致しないことを示す。
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrUserTokenMismatch は送信されたユーザートークンがセッションと一致しないことを示す。
	ErrUserTokenMismatch = errors.New("user token mismatch")
	// ErrDuplicateSessionID はセッションIDの衝突が解消できなかったことを示す。
	ErrDuplicateSessionID = errors.New("duplicate session id")
	// ErrVerificationFailed は外部IDトークンの検証失敗を示す。
	ErrVerificationFailed = errors.New("identity token verification failed")
	// ErrSessionNotFound はローテーション対象のセッションが存在しないことを示す。
	ErrSessionNotFound = errors.New("session not found")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	ErrCodeUserDisabled      = "USER_DISABLED"
	ErrCodeAdminRequired     = "ADMIN_REQUIRED"
	ErrCodeCSRFMismatch      = "CSRF_MISMATCH"
	ErrCodeUserTokenMismatch = "USER_TOKEN_MISMATCH"
	ErrCodeHXRequired        = "HX_REQUEST_REQUIRED"
	ErrCodeInvalidAPIKey     = "INVALID_API_KEY"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
)

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserDisabledError はアカウント無効化エラーを生成する。
func NewUserDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeUserDisabled,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewAdminRequiredError は管理者権限不足エラーを生成する。
func NewAdminRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminRequired,
		Message:  "管理者としてログインする必要があります。",
		Category: "auth",
		Action:   "管理者ログインページからログインしてください。",
	}
}

// NewCSRFMismatchError はCSRFトークン不一致エラーを生成する。
func NewCSRFMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFMismatch,
		Message:  "CSRFトークンが一致しません。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewUserTokenMismatchError はユーザートークン不一致エラーを生成する。
func NewUserTokenMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeUserTokenMismatch,
		Message:  "ログインユーザーが切り替わっています。",
		Category: "auth",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewHXRequiredError はHXリクエスト以外からの呼び出しを拒否するエラーを生成する。
func NewHXRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeHXRequired,
		Message:  "このエンドポイントはHXリクエストのみ受け付けます。",
		Category: "validation",
		Action:   "画面上の操作から実行してください。",
	}
}

// NewInvalidAPIKeyError は管理者APIキー不正エラーを生成する。
func NewInvalidAPIKeyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAPIKey,
		Message:  "APIキーが無効です。",
		Category: "auth",
		Action:   "メールアドレスとAPIキーを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
