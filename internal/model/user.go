// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Emailは外部IdPとの突き合わせキーとして一意に扱う。
type User struct {
	ID           int64
	Name         string
	Email        string
	Disabled     bool
	Admin        bool
	PasswordHash *string // 旧パスワード認証の名残。新規ユーザーでは常にnil
	Picture      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdentityClaims は検証済みIDトークンから取り出したユーザー情報を表す。
type IdentityClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Session はユーザーのログインセッションを表す。
// Emailはユーザー検索を結合なしで行うための非正規化コピーで、
// 正となるのはUserIDである。
type Session struct {
	ID        string `json:"session_id"`
	CSRFToken string `json:"csrf_token"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires"` // エポック秒
}

// ExpiredAt は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}

// Expiry はセッションの有効期限をtime.Timeで返す。
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0).UTC()
}
