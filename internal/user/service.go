// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/shunfish/internal/auth"
	"github.com/hitoshi/shunfish/internal/model"
)

// UserStore は退会処理に必要なユーザーリポジトリの操作。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// PasswordChecker はパスワードの照合を行う。一致しない場合はauth.ErrBadCredentialsを返す。
type PasswordChecker interface {
	Compare(hash, password string) error
}

// SessionRevoker はセッショントークンを失効させる。
type SessionRevoker interface {
	Logout(ctx context.Context, raw string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	users    UserStore
	hasher   PasswordChecker
	sessions SessionRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserStore, hasher PasswordChecker, sessions SessionRevoker) *Service {
	return &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// パスワードでログインするユーザーは現在のパスワードの確認が必要。
// 外部IdPで作成されたユーザーはパスワードを知らないため、認証済みトークンのみで退会できる。
// 削除後、退会に使ったトークンを失効させる。他のトークンはユーザーが存在しないため認証に失敗する。
func (s *Service) Withdraw(ctx context.Context, userID, rawToken, currentPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.NewInternalError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return model.NewNotFoundError("ユーザー")
	}

	if user.Provider == "" || user.Provider == model.ProviderLocal {
		if err := s.hasher.Compare(user.EncryptedPassword, currentPassword); err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				return model.NewValidationError("現在のパスワードが正しくありません")
			}
			return model.NewInternalError(err)
		}
	}

	slog.InfoContext(ctx, "退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.users.DeleteByID(ctx, userID); err != nil {
		return model.NewInternalError(fmt.Errorf("failed to delete user: %w", err))
	}

	if s.sessions != nil && rawToken != "" {
		if err := s.sessions.Logout(ctx, rawToken); err != nil {
			slog.WarnContext(ctx, "退会後のトークン失効に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.InfoContext(ctx, "退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}
