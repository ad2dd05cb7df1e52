package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/sessiongate/internal/logger"
	"github.com/hitoshi/sessiongate/internal/model"
)

// SessionReader はGateが使うセッション操作。
type SessionReader interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

// UserReader はGateが使うユーザー検索。
type UserReader interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// Principal は認証済みのリクエスト主体。
type Principal struct {
	User    *model.User
	Session *model.Session
}

// Gate はセッションIDからリクエスト主体を解決し、権限を判定する。
//
// 判定は 匿名 → セッション検索 → ユーザー解決 の順に進み、
// どこで止まったかをmodelのエラーで返す。
type Gate struct {
	sessions SessionReader
	users    UserReader
}

// NewGate はGateを生成する。
func NewGate(sessions SessionReader, users UserReader) *Gate {
	return &Gate{sessions: sessions, users: users}
}

// Authenticate はセッションとユーザーを解決する。
// 無効化されたユーザーもここでは返す。アカウント状態の判定はRequireUserで行う。
func (g *Gate) Authenticate(ctx context.Context, sessionID string) (*Principal, error) {
	if sessionID == "" {
		return nil, model.ErrNotAuthenticated
	}

	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, model.ErrNotAuthenticated
	}

	user, err := g.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, model.ErrNotAuthenticated
	}

	// user_idが正。メールアドレスが変わっていればセッションの控えは古い
	if user.Email != sess.Email {
		slog.Warn("ユーザーのメールアドレスが変更されたためセッションを破棄します",
			slog.Int64("user_id", user.ID),
			logger.SessionIDAttr(sess.ID),
		)
		if err := g.sessions.Delete(ctx, sess.ID); err != nil {
			slog.Error("セッションの破棄に失敗しました", slog.String("error", err.Error()))
		}
		return nil, model.ErrNotAuthenticated
	}

	return &Principal{User: user, Session: sess}, nil
}

// RequireUser は有効なユーザーのセッションであることを要求する。
func (g *Gate) RequireUser(ctx context.Context, sessionID string) (*Principal, error) {
	p, err := g.Authenticate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.User.Disabled {
		return p, model.ErrDisabled
	}
	return p, nil
}

// RequireAdmin は管理者ユーザーのセッションであることを要求する。
func (g *Gate) RequireAdmin(ctx context.Context, sessionID string) (*Principal, error) {
	p, err := g.RequireUser(ctx, sessionID)
	if err != nil {
		return p, err
	}
	if !p.User.Admin {
		return p, model.ErrAdminRequired
	}
	return p, nil
}
