// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/sessiongate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateIfNotExists はメールアドレスが未登録の場合のみユーザーを作成し、
	// 作成済み・既存いずれの場合も永続化されている行を返す。
	// 同一メールアドレスでの同時呼び出しでも行は1つだけになる。
	CreateIfNotExists(ctx context.Context, user *model.User) (*model.User, error)
}
