package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shunfish/internal/model"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/security"
)

// ロックの既定値
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockDuration      = 30 * time.Minute
)

// CredentialConfig はCredentialVerifierの設定。
type CredentialConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	Now               func() time.Time
}

// CredentialVerifier はメールアドレスとパスワードを照合する。
// 連続して失敗した場合はアカウントを一定時間ロックする。
type CredentialVerifier struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	cfg       CredentialConfig
	dummyHash string
}

// NewCredentialVerifier はCredentialVerifierを生成する。
func NewCredentialVerifier(users repository.UserRepository, hasher PasswordHasher, cfg CredentialConfig) *CredentialVerifier {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// 未登録メールアドレスでも照合と同程度の時間をかけるためのハッシュ
	dummyHash, err := hasher.Hash("shunfish-dummy-password")
	if err != nil {
		slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
	}

	return &CredentialVerifier{users: users, hasher: hasher, cfg: cfg, dummyHash: dummyHash}
}

// Verify はメールアドレス（大文字小文字を区別しない）とパスワードを照合する。
// 該当ユーザーがいない場合はErrNotFound、不一致はErrBadCredentials、ロック中はErrLocked。
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*model.User, error) {
	normalized, err := security.NormalizeEmail(email)
	if err != nil {
		v.burn(password)
		return nil, ErrNotFound
	}

	user, err := v.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		v.burn(password)
		return nil, ErrNotFound
	}

	now := v.cfg.Now()
	if user.LockedAt(now) {
		v.burn(password)
		return nil, ErrLocked
	}

	err = v.hasher.Compare(user.EncryptedPassword, password)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrBadCredentials) {
		return nil, err
	}

	attempts, lockedUntil, err := v.users.IncrementFailedAttempts(ctx, user.ID, now, v.cfg.MaxFailedAttempts, now.Add(v.cfg.LockDuration))
	if err != nil {
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	if lockedUntil != nil && now.Before(*lockedUntil) {
		slog.Warn("account locked after repeated login failures",
			slog.String("user_id", user.ID),
			slog.Int("failed_attempts", attempts),
			slog.Time("locked_until", *lockedUntil),
		)
		return nil, ErrLocked
	}
	return nil, ErrBadCredentials
}

// burn はダミーハッシュと照合して処理時間をそろえる。
func (v *CredentialVerifier) burn(password string) {
	if v.dummyHash != "" {
		_ = v.hasher.Compare(v.dummyHash, password)
	}
}
