package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/sessiongate/internal/auth"
	"github.com/hitoshi/sessiongate/internal/middleware"
	"github.com/hitoshi/sessiongate/internal/model"
)

// CookieConfig はセッションCookieの属性。
// Secure属性は常に付与するため設定項目にはしない。
type CookieConfig struct {
	Domain string
	MaxAge int // 秒
}

// cookieJar はセッション関連の3つのCookieを発行・削除する。
type cookieJar struct {
	config CookieConfig
	now    func() time.Time
}

func newCookieJar(config CookieConfig) cookieJar {
	return cookieJar{config: config, now: time.Now}
}

// issue はsession_id、csrf_token、user_tokenを発行する。
// session_idのみHttpOnlyとし、残りはスクリプトからヘッダーに載せられるようにする。
func (j cookieJar) issue(w http.ResponseWriter, s *model.Session) {
	expires := j.now().Add(time.Duration(j.config.MaxAge) * time.Second)
	j.set(w, middleware.SessionCookieName, s.ID, true, j.config.MaxAge, expires)
	j.set(w, middleware.CSRFCookieName, s.CSRFToken, false, j.config.MaxAge, expires)
	j.set(w, middleware.UserTokenCookieName, auth.UserToken(s.Email), false, j.config.MaxAge, expires)
}

// clear は3つのCookieを削除する。
func (j cookieJar) clear(w http.ResponseWriter) {
	j.clearOne(w, middleware.SessionCookieName, true)
	j.clearOne(w, middleware.CSRFCookieName, false)
	j.clearOne(w, middleware.UserTokenCookieName, false)
}

func (j cookieJar) clearOne(w http.ResponseWriter, name string, httpOnly bool) {
	j.set(w, name, "", httpOnly, -1, time.Unix(0, 0))
}

func (j cookieJar) set(w http.ResponseWriter, name, value string, httpOnly bool, maxAge int, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.config.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
