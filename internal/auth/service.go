// Package auth はIDトークン検証、ログインフロー、CSRF照合、認可判定を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sessiongate/internal/logger"
	"github.com/hitoshi/sessiongate/internal/metrics"
	"github.com/hitoshi/sessiongate/internal/model"
)

// UserDirectory はログイン時のユーザー解決インターフェース。
type UserDirectory interface {
	GetOrCreateByEmail(ctx context.Context, claims *model.IdentityClaims) (*model.User, error)
}

// SessionIssuer はログイン・ログアウト時のセッション操作インターフェース。
type SessionIssuer interface {
	Create(ctx context.Context, userID int64, email string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User    *model.User
	Session *model.Session
}

// Service はIDトークンによるログインとログアウトを提供する。
type Service struct {
	verifier IdentityVerifier
	users    UserDirectory
	sessions SessionIssuer
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。mcがnilの場合は計測しない。
func NewService(verifier IdentityVerifier, users UserDirectory, sessions SessionIssuer, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		verifier: verifier,
		users:    users,
		sessions: sessions,
		metrics:  mc,
	}
}

// Login はIdPのクレデンシャルを検証し、ユーザーを解決してセッションを発行する。
//
// 検証に失敗した場合はmodel.ErrVerificationFailed、
// 無効化されたユーザーの場合はmodel.ErrDisabledを返し、どちらもセッションは作らない。
// 検証に失敗した場合はユーザーも作らない。
func (s *Service) Login(ctx context.Context, credential string) (*LoginResult, error) {
	start := time.Now()
	claims, err := s.verifier.Verify(ctx, credential)
	s.metrics.RecordVerifyLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordLoginFailure(metrics.ReasonVerification)
		if !errors.Is(err, model.ErrVerificationFailed) {
			err = fmt.Errorf("%w: %v", model.ErrVerificationFailed, err)
		}
		return nil, err
	}

	user, err := s.users.GetOrCreateByEmail(ctx, claims)
	if err != nil {
		s.metrics.RecordLoginFailure(metrics.ReasonInternal)
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user.Disabled {
		s.metrics.RecordLoginFailure(metrics.ReasonDisabled)
		slog.Info("無効化されたユーザーのログインを拒否しました", slog.Int64("user_id", user.ID))
		return nil, model.ErrDisabled
	}

	sess, err := s.sessions.Create(ctx, user.ID, user.Email)
	if err != nil {
		s.metrics.RecordLoginFailure(metrics.ReasonInternal)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLoginSuccess()
	slog.Info("ログインしました",
		slog.Int64("user_id", user.ID),
		logger.SessionIDAttr(sess.ID),
	)
	return &LoginResult{User: user, Session: sess}, nil
}

// Logout はセッションを破棄する。保護セッションや存在しないIDでは何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("ログアウトしました", logger.SessionIDAttr(sessionID))
	return nil
}
