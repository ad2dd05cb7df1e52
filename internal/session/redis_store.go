package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/sessiongate/internal/model"
)

// keyPrefix はRedis上のセッションキーの接頭辞。
const keyPrefix = "session:"

// RedisStore はRedisのキー失効を利用するStore実装。
// 期限切れキーはRedisが消すため、CleanupExpiredは何もしない。
type RedisStore struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
	newID  func() (string, error)
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts,
		now:    time.Now,
		newID:  generateToken,
	}
}

func sessionKey(id string) string {
	return keyPrefix + id
}

// Create はSET NXでセッションを保存する。
// 保護セッションはTTLなしで保存し、Redisに失効させない。
func (s *RedisStore) Create(ctx context.Context, userID int64, email string) (*model.Session, error) {
	ttl := s.opts.MaxAge
	if s.opts.isProtected(email) {
		ttl = 0
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		sess, err := newSessionRecord(s.newID, userID, email, s.now().Add(s.opts.MaxAge))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session: %w", err)
		}

		ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), data, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
		if ok {
			return sess, nil
		}

		slog.Warn("セッションIDが衝突したため再生成します",
			slog.Int("attempt", attempt),
			slog.Int64("user_id", userID),
		)
	}
	return nil, fmt.Errorf("failed to create session after %d attempts: %w", maxCreateAttempts, model.ErrDuplicateSessionID)
}

// Get は指定IDのセッションを取得する。
// TTLは秒単位のため、キーが残っていても論理的な期限で判定する。
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.ExpiredAt(s.now()) && !s.opts.isProtected(sess.Email) {
		return nil, nil
	}
	return sess, nil
}

func (s *RedisStore) load(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess := &model.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return sess, nil
}

// Delete は指定IDのセッションを削除する。
// 保護セッションかどうかは保存済みの値から判定する。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil || s.opts.isProtected(sess.Email) {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List はSCANでセッションキーを走査し、有効なものを最大ListLimit件返す。
func (s *RedisStore) List(ctx context.Context) ([]*model.Session, error) {
	var sessions []*model.Session
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", ListLimit).Iterator()
	for iter.Next(ctx) && len(sessions) < ListLimit {
		id := iter.Val()[len(keyPrefix):]
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired は何もしない。期限切れキーはRedisのTTLで消える。
func (s *RedisStore) CleanupExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
