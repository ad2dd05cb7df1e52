package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sessiongate/internal/logger"
	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/model"
)

// Manager はStoreの上でセッションの発行・ローテーション・破棄を行う。
type Manager struct {
	store   Store
	opts    Options
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewManager はManagerを生成する。mcがnilの場合は計測しない。
func NewManager(store Store, opts Options, mc metrics.MetricsCollector) *Manager {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Manager{
		store:   store,
		opts:    opts,
		metrics: mc,
		now:     time.Now,
	}
}

// MaxAge はセッションの有効期間を返す。Cookieの寿命にも使う。
func (m *Manager) MaxAge() time.Duration {
	return m.opts.MaxAge
}

// IsProtected はメールアドレスが削除・ローテーション対象外の管理者のものかを返す。
func (m *Manager) IsProtected(email string) bool {
	return m.opts.isProtected(email)
}

// Create はユーザーの新しいセッションを発行する。
func (m *Manager) Create(ctx context.Context, userID int64, email string) (*model.Session, error) {
	return m.store.Create(ctx, userID, email)
}

// Get は有効なセッションを返す。無い場合はnil。
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	return m.store.Get(ctx, id)
}

// Delete はセッションを破棄する。保護セッションや存在しないIDでは何もしない。
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// List は有効なセッションの一覧を返す。
func (m *Manager) List(ctx context.Context) ([]*model.Session, error) {
	return m.store.List(ctx)
}

// Cleanup は期限切れセッションを掃除し、削除件数を返す。
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := m.store.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	m.metrics.RecordSessionsCleaned(deleted)
	return deleted, nil
}

// Rotate は残り寿命が半分以下のセッションを新しいものに置き換える。
// forceがtrueの場合は残り寿命に関わらず置き換える。保護セッションは置き換えない。
// 置き換えなかった場合は引数のセッションをそのまま返すので、呼び出し側はIDの比較で判定する。
//
// 新しいセッションを作ってから古いものを消すため、削除に失敗しても
// 古いセッションは期限切れで自然に無効になる。
func (m *Manager) Rotate(ctx context.Context, s *model.Session, force bool) (*model.Session, error) {
	if s == nil {
		return nil, model.ErrSessionNotFound
	}
	if m.opts.isProtected(s.Email) {
		return s, nil
	}

	ageLeft := s.ExpiresAt - m.now().Unix()
	if !force && ageLeft*2 > int64(m.opts.MaxAge/time.Second) {
		return s, nil
	}

	rotated, err := m.store.Create(ctx, s.UserID, s.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotated session: %w", err)
	}

	if err := m.store.Delete(ctx, s.ID); err != nil {
		slog.Warn("ローテーション前のセッション削除に失敗しました",
			logger.SessionIDAttr(s.ID),
			slog.String("error", err.Error()),
		)
	}

	m.metrics.RecordSessionRotated()
	return rotated, nil
}
