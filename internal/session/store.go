// Package session はログインセッションの保存とライフサイクル管理を提供する。
//
// 保存先はStoreインターフェースで抽象化され、起動時の設定に応じて
// PostgreSQL(テーブル+明示的な掃除)かRedis(TTLによる自動失効)のどちらかが選ばれる。
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/sessiongate/internal/config"
	"github.com/hitoshi/sessiongate/internal/model"
)

const (
	// tokenBytes はセッションIDとCSRFトークンの乱数バイト数。
	tokenBytes = 32

	// maxCreateAttempts はID衝突時に新しいIDで作り直す最大回数。
	maxCreateAttempts = 3

	// ListLimit はList が返す最大件数。
	ListLimit = 100
)

// Store はセッションの永続化インターフェース。
type Store interface {
	// Create は新しいIDとCSRFトークンを生成してセッションを保存する。
	// IDの衝突が解消できない場合はmodel.ErrDuplicateSessionIDを返す。既存の行は上書きしない。
	Create(ctx context.Context, userID int64, email string) (*model.Session, error)

	// Get は指定IDのセッションを取得する。
	// 存在しない、または期限切れの場合はnilを返す。保護セッションは期限に関わらず返す。
	Get(ctx context.Context, id string) (*model.Session, error)

	// Delete は指定IDのセッションを削除する。
	// 保護セッションや存在しないIDの場合は何もしない。
	Delete(ctx context.Context, id string) error

	// List は有効なセッションを最大ListLimit件返す。
	List(ctx context.Context) ([]*model.Session, error)

	// CleanupExpired は期限切れセッションを物理削除し、削除件数を返す。
	CleanupExpired(ctx context.Context) (int64, error)
}

// Options はストア共通の設定。
type Options struct {
	MaxAge         time.Duration // セッションの有効期間
	ProtectedEmail string        // 削除・ローテーションされない管理者セッションのメールアドレス
}

// OptionsFromConfig はConfigからOptionsを組み立てる。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxAge:         cfg.SessionMaxAgeDuration(),
		ProtectedEmail: cfg.AdminEmail,
	}
}

// isProtected はメールアドレスが保護対象かどうかを返す。
// ProtectedEmailが未設定の場合はどのセッションも保護しない。
func (o Options) isProtected(email string) bool {
	return o.ProtectedEmail != "" && email == o.ProtectedEmail
}

// NewStore はcfg.SessionStoreに応じたStoreを生成する。
// postgresの場合はdbを、redisの場合はrdbを使用する。
func NewStore(cfg *config.Config, db *sql.DB, rdb *redis.Client) (Store, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.SessionStore {
	case config.StorePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres session store requires a database connection")
		}
		return NewPostgresStore(db, opts), nil
	case config.StoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisStore(rdb, opts), nil
	default:
		return nil, fmt.Errorf("unsupported session store: %q", cfg.SessionStore)
	}
}

// generateToken はURLセーフなbase64でエンコードした乱数トークンを返す。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newSessionRecord はIDとCSRFトークンを生成したセッションを返す。
func newSessionRecord(newID func() (string, error), userID int64, email string, expires time.Time) (*model.Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	csrf, err := generateToken()
	if err != nil {
		return nil, err
	}
	return &model.Session{
		ID:        id,
		CSRFToken: csrf,
		UserID:    userID,
		Email:     email,
		ExpiresAt: expires.Unix(),
	}, nil
}
