// Package user はユーザーの検索と初回ログイン時の登録を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/sessiongate/internal/model"
	"github.com/hitoshi/sessiongate/internal/repository"
)

// ErrEmailRequired は検証済みクレームにメールアドレスが無い場合に返す。
var ErrEmailRequired = errors.New("email claim is required")

// NameSanitizer は表示名の無害化インターフェース。
type NameSanitizer interface {
	Sanitize(raw string) string
}

// ImageURLValidator はプロフィール画像URLの検証インターフェース。
type ImageURLValidator interface {
	ValidateImageURL(rawURL string) error
}

// Directory はユーザーの検索・登録を行うサービス層。
type Directory struct {
	repo      repository.UserRepository
	sanitizer NameSanitizer
	urls      ImageURLValidator
}

// NewDirectory はDirectoryを生成する。
func NewDirectory(repo repository.UserRepository, sanitizer NameSanitizer, urls ImageURLValidator) *Directory {
	return &Directory{
		repo:      repo,
		sanitizer: sanitizer,
		urls:      urls,
	}
}

// GetByID はIDでユーザーを取得する。見つからない場合はnilを返す。
func (d *Directory) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := d.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// GetByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (d *Directory) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := d.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// GetOrCreateByEmail は検証済みクレームのメールアドレスでユーザーを取得し、
// 未登録であれば作成する。既存ユーザーの名前や画像は更新しない。
func (d *Directory) GetOrCreateByEmail(ctx context.Context, claims *model.IdentityClaims) (*model.User, error) {
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	existing, err := d.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	candidate := &model.User{
		Name:  d.displayName(claims.Name, email),
		Email: email,
	}
	if pic := strings.TrimSpace(claims.Picture); pic != "" {
		if err := d.urls.ValidateImageURL(pic); err != nil {
			slog.Warn("プロフィール画像URLを破棄しました",
				slog.String("email", email),
				slog.String("reason", err.Error()),
			)
		} else {
			candidate.Picture = &pic
		}
	}

	user, err := d.repo.CreateIfNotExists(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("初回ログインのユーザーを登録しました",
		slog.Int64("user_id", user.ID),
		slog.String("email", email),
	)
	return user, nil
}

// displayName は無害化した表示名を返す。空になる場合はメールアドレスを使う。
func (d *Directory) displayName(raw, email string) string {
	if name := d.sanitizer.Sanitize(raw); name != "" {
		return name
	}
	return email
}
