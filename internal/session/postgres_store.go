package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sessiongate/internal/model"
)

// PostgresStore はsessionsテーブルを使用するStore実装。
// 期限切れ行は自動では消えないため、CleanupExpiredで定期的に掃除する。
type PostgresStore struct {
	db    *sql.DB
	opts  Options
	now   func() time.Time
	newID func() (string, error)
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, opts Options) *PostgresStore {
	return &PostgresStore{
		db:    db,
		opts:  opts,
		now:   time.Now,
		newID: generateToken,
	}
}

// Create はセッションを挿入する。
// 同じIDの行が期限切れの場合のみ置き換え、有効な行や保護セッションとの衝突は
// 新しいIDで作り直す。
func (s *PostgresStore) Create(ctx context.Context, userID int64, email string) (*model.Session, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		now := s.now()
		sess, err := newSessionRecord(s.newID, userID, email, now.Add(s.opts.MaxAge))
		if err != nil {
			return nil, err
		}

		result, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, csrf_token, user_id, email, expires)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (session_id) DO UPDATE
			   SET csrf_token = EXCLUDED.csrf_token,
			       user_id = EXCLUDED.user_id,
			       email = EXCLUDED.email,
			       expires = EXCLUDED.expires
			   WHERE sessions.expires <= $6 AND sessions.email <> $7`,
			sess.ID, sess.CSRFToken, sess.UserID, sess.Email, sess.ExpiresAt,
			now.Unix(), s.opts.ProtectedEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert session: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 1 {
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
// 行が残っていても期限切れならnilを返す。
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Session, error) {
	sess := &model.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, csrf_token, user_id, email, expires
		 FROM sessions
		 WHERE session_id = $1`,
		id,
	).Scan(&sess.ID, &sess.CSRFToken, &sess.UserID, &sess.Email, &sess.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if sess.ExpiredAt(s.now()) && !s.opts.isProtected(sess.Email) {
		return nil, nil
	}
	return sess, nil
}

// Delete は指定IDのセッションを削除する。保護セッションは条件で除外される。
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = $1 AND email <> $2`,
		id, s.opts.ProtectedEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List は有効なセッションを期限の遅い順に最大ListLimit件返す。
func (s *PostgresStore) List(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, csrf_token, user_id, email, expires
		 FROM sessions
		 WHERE expires > $1 OR email = $2
		 ORDER BY expires DESC
		 LIMIT $3`,
		s.now().Unix(), s.opts.ProtectedEmail, ListLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess := &model.Session{}
		if err := rows.Scan(&sess.ID, &sess.CSRFToken, &sess.UserID, &sess.Email, &sess.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired は期限切れセッションを1トランザクションで削除する。
// 保護セッションは期限切れでも残す。
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires <= $1 AND email <> $2`,
		s.now().Unix(), s.opts.ProtectedEmail,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
