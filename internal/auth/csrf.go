package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/hitoshi/sessiongate/internal/model"
)

// CSRFGuard はダブルサブミット方式のCSRFトークンと、
// ログイン中ユーザーを示すユーザートークンを照合する。
// 状態を持たないため、ゼロ値のまま共有してよい。
type CSRFGuard struct{}

// NewCSRFGuard はCSRFGuardを生成する。
func NewCSRFGuard() *CSRFGuard {
	return &CSRFGuard{}
}

// VerifyCSRF は送信されたCSRFトークンがセッションのものと一致するかを検証する。
// 不一致または未送信の場合はmodel.ErrCSRFMismatchを返す。
func (g *CSRFGuard) VerifyCSRF(submitted string, s *model.Session) error {
	if s == nil || !constantTimeEqual(submitted, s.CSRFToken) {
		return model.ErrCSRFMismatch
	}
	return nil
}

// VerifyUserBinding は送信されたユーザートークンがセッションのユーザーのものかを検証する。
// 別タブで別ユーザーに切り替わった場合などに不一致になる。
func (g *CSRFGuard) VerifyUserBinding(submitted string, s *model.Session) error {
	if s == nil || !constantTimeEqual(submitted, UserToken(s.Email)) {
		return model.ErrUserTokenMismatch
	}
	return nil
}

// UserToken はメールアドレスから決まるユーザートークンを返す。
// 秘密情報ではなく、クライアントが表示中のユーザーを識別するためだけに使う。
func UserToken(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func constantTimeEqual(submitted, expected string) bool {
	if submitted == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}
