package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shunfish/internal/metrics"
	"github.com/hitoshi/shunfish/internal/model"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/token"
)

// Verifier はメールアドレスとパスワードを照合する。
type Verifier interface {
	Verify(ctx context.Context, email, password string) (*model.User, error)
}

// SessionConfig はSessionManagerの設定。
type SessionConfig struct {
	// RequireConfirmation がtrueの場合、メールアドレス未確認のユーザーはログインできない。
	RequireConfirmation bool
	Now                 func() time.Time
}

// SessionManager はトークンベースのログイン、ログアウト、リクエスト認証を行う。
// サーバー側にセッション状態は持たず、失効したjtiのみを保存する。
type SessionManager struct {
	verifier Verifier
	codec    *token.Codec
	users    repository.UserRepository
	revoked  repository.RevokedTokenRepository
	metrics  metrics.MetricsCollector
	cfg      SessionConfig
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(
	verifier Verifier,
	codec *token.Codec,
	users repository.UserRepository,
	revoked repository.RevokedTokenRepository,
	collector metrics.MetricsCollector,
	cfg SessionConfig,
) *SessionManager {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionManager{
		verifier: verifier,
		codec:    codec,
		users:    users,
		revoked:  revoked,
		metrics:  collector,
		cfg:      cfg,
	}
}

// Login はメールアドレスとパスワードでログインし、ユーザーとトークンを返す。
// 未登録、パスワード不一致、ロック中のいずれも同じエラーを返す。
func (m *SessionManager) Login(ctx context.Context, email, password, ip string) (*model.User, string, error) {
	user, err := m.verifier.Verify(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, ErrLocked):
			m.metrics.RecordLogin(metrics.ResultLocked)
			return nil, "", model.NewInvalidCredentialsError()
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrBadCredentials):
			m.metrics.RecordLogin(metrics.ResultFailure)
			return nil, "", model.NewInvalidCredentialsError()
		default:
			m.metrics.RecordLogin(metrics.ResultError)
			return nil, "", model.NewInternalError(fmt.Errorf("failed to verify credentials: %w", err))
		}
	}

	if m.cfg.RequireConfirmation && !user.Confirmed() {
		m.metrics.RecordLogin(metrics.ResultFailure)
		return nil, "", model.NewUnauthorizedError("メールアドレスの確認が完了していません。確認メールのリンクを開いてください。")
	}

	tok, err := m.SignIn(ctx, user, ip)
	if err != nil {
		m.metrics.RecordLogin(metrics.ResultError)
		return nil, "", err
	}

	m.metrics.RecordLogin(metrics.ResultSuccess)
	return user, tok, nil
}

// SignIn は認証済みユーザーのサインインを記録し、新しいトークンを発行する。
func (m *SessionManager) SignIn(ctx context.Context, user *model.User, ip string) (string, error) {
	if err := m.users.RecordSignIn(ctx, user.ID, ip, m.cfg.Now()); err != nil {
		return "", model.NewInternalError(err)
	}

	tok, claims, err := m.codec.Issue(user.ID)
	if err != nil {
		return "", model.NewInternalError(fmt.Errorf("failed to issue token: %w", err))
	}
	m.metrics.RecordTokenIssued()

	slog.InfoContext(ctx, "user signed in",
		slog.String("user_id", user.ID),
		slog.String("jti", claims.JTI),
	)
	return tok, nil
}

// Logout はトークンのjtiを失効させる。
// 期限切れのトークンは失効の必要がないため成功とする。同じトークンの二重ログアウトも成功とする。
func (m *SessionManager) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return model.NewUnauthorizedError("ログインしていません。")
	}

	claims, err := m.codec.VerifyIgnoringExpiry(raw)
	if errors.Is(err, token.ErrExpired) {
		return nil
	}
	if err != nil {
		return model.NewUnauthorizedError("")
	}

	if err := m.revoked.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return model.NewInternalError(fmt.Errorf("failed to revoke token: %w", err))
	}
	m.metrics.RecordTokenRevoked()

	slog.InfoContext(ctx, "user signed out",
		slog.String("user_id", claims.UserID),
		slog.String("jti", claims.JTI),
	)
	return nil
}

// Authenticate はリクエストのトークンを検証し、ユーザーを返す。
// 失敗はすべて401のAPIErrorとして返す（内部障害を除く）。
func (m *SessionManager) Authenticate(ctx context.Context, raw string) (*model.User, *model.SessionClaims, error) {
	if raw == "" {
		return nil, nil, model.NewUnauthorizedError("ログインしてください。")
	}

	claims, err := m.codec.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, nil, model.NewTokenExpiredError()
		}
		return nil, nil, model.NewUnauthorizedError("")
	}

	revoked, err := m.revoked.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, nil, model.NewInternalError(fmt.Errorf("failed to check revocation: %w", err))
	}
	if revoked {
		return nil, nil, model.NewTokenRevokedError()
	}

	user, err := m.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, model.NewInternalError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, nil, model.NewUnauthorizedError("")
	}

	return user, claims, nil
}
