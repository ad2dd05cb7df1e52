package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/sessiongate/internal/model"
)

const userColumns = `id, name, email, disabled, admin, password, picture, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateIfNotExists はON CONFLICT (email) DO NOTHINGで挿入した後、
// メールアドレスで行を読み直して返す。
// 初回ログインが同時に走っても一意制約によって行は1つに収束する。
func (r *PostgresUserRepo) CreateIfNotExists(ctx context.Context, user *model.User) (*model.User, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (name, email, disabled, admin, picture, created_at, updated_at)
		 VALUES ($1, $2, FALSE, FALSE, $3, $4, $4)
		 ON CONFLICT (email) DO NOTHING`,
		user.Name, user.Email, user.Picture, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	stored, err := r.FindByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// 直後に削除された場合のみ到達する
		return nil, fmt.Errorf("user vanished after insert: %s", user.Email)
	}
	return stored, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var password, picture sql.NullString
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Disabled, &user.Admin,
		&password, &picture, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if password.Valid {
		user.PasswordHash = &password.String
	}
	if picture.Valid {
		user.Picture = &picture.String
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
