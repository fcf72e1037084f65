package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shunfish/internal/mail"
	"github.com/hitoshi/shunfish/internal/metrics"
	"github.com/hitoshi/shunfish/internal/model"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/security"
)

// 有効期間の既定値
const (
	DefaultConfirmWithin       = 24 * time.Hour
	DefaultResetPasswordWithin = 6 * time.Hour
)

// AccountConfig はAccountManagerの設定。
type AccountConfig struct {
	// BaseURL はメール内リンクの起点となるフロントエンドのURL。
	BaseURL             string
	ConfirmWithin       time.Duration
	ResetPasswordWithin time.Duration
	// SignInAfterReset がtrueの場合、パスワード再設定後にトークンを発行する。
	SignInAfterReset bool
	Now              func() time.Time
}

// RegisterParams はユーザー登録の入力。
type RegisterParams struct {
	Email                string
	Password             string
	PasswordConfirmation string
	Name                 string
}

// ResetPasswordParams はパスワード再設定の入力。
type ResetPasswordParams struct {
	Token                string
	Password             string
	PasswordConfirmation string
}

// AccountManager はユーザー登録、メールアドレス確認、パスワード再設定を扱う。
type AccountManager struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	mailer    mail.Mailer
	sessions  *SessionManager
	sanitizer security.NameSanitizerService
	metrics   metrics.MetricsCollector
	cfg       AccountConfig
}

// NewAccountManager はAccountManagerを生成する。
func NewAccountManager(
	users repository.UserRepository,
	hasher PasswordHasher,
	mailer mail.Mailer,
	sessions *SessionManager,
	sanitizer security.NameSanitizerService,
	collector metrics.MetricsCollector,
	cfg AccountConfig,
) *AccountManager {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.ConfirmWithin <= 0 {
		cfg.ConfirmWithin = DefaultConfirmWithin
	}
	if cfg.ResetPasswordWithin <= 0 {
		cfg.ResetPasswordWithin = DefaultResetPasswordWithin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &AccountManager{
		users:     users,
		hasher:    hasher,
		mailer:    mailer,
		sessions:  sessions,
		sanitizer: sanitizer,
		metrics:   collector,
		cfg:       cfg,
	}
}

// Register は未確認ユーザーを作成し、確認メールを送信する。ログインは行わない。
func (m *AccountManager) Register(ctx context.Context, p RegisterParams) (*model.User, error) {
	email, msgs := validateEmail(p.Email)
	msgs = append(msgs, validatePassword(p.Password, p.PasswordConfirmation)...)
	name := m.sanitizer.Sanitize(p.Name)
	msgs = append(msgs, validateName(name)...)

	if email != "" {
		existing, err := m.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, model.NewInternalError(err)
		}
		if existing != nil {
			msgs = append(msgs, msgEmailTaken)
		}
	}
	if len(msgs) > 0 {
		return nil, model.NewValidationError(msgs...)
	}

	hash, err := m.hasher.Hash(p.Password)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	raw, digest, err := generateToken()
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	now := m.cfg.Now()
	user := &model.User{
		ID:                 uuid.New().String(),
		Email:              email,
		EncryptedPassword:  hash,
		Name:               name,
		ConfirmationToken:  digest,
		ConfirmationSentAt: &now,
		Provider:           model.ProviderLocal,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewValidationError(msgEmailTaken)
		}
		return nil, model.NewInternalError(err)
	}

	slog.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))

	if err := m.sendConfirmation(ctx, user, user.Email, raw); err != nil {
		// 確認メールが届かない未確認ユーザーを残さず、同じメールアドレスで再登録できるようにする
		if delErr := m.users.DeleteByID(ctx, user.ID); delErr != nil {
			slog.ErrorContext(ctx, "failed to roll back registration",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, model.NewInternalError(err)
	}
	return user, nil
}

// ConfirmEmail は確認トークンに対応するユーザーを確認済みにする。
// メールアドレス変更の確認待ちの場合は新しいメールアドレスに切り替える。
func (m *AccountManager) ConfirmEmail(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, model.NewValidationError(msgConfirmationInvalid)
	}

	user, err := m.users.FindByConfirmationToken(ctx, digestToken(raw))
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	now := m.cfg.Now()
	if user == nil || expired(user.ConfirmationSentAt, m.cfg.ConfirmWithin, now) {
		return nil, model.NewValidationError(msgConfirmationInvalid)
	}

	if user.PendingReconfirmation() {
		user.Email = user.UnconfirmedEmail
		user.UnconfirmedEmail = ""
	}
	user.ConfirmedAt = &now
	user.ConfirmationToken = ""
	user.UpdatedAt = now

	if err := m.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewValidationError(msgEmailTaken)
		}
		return nil, model.NewInternalError(err)
	}

	slog.InfoContext(ctx, "email confirmed", slog.String("user_id", user.ID))
	return user, nil
}

// ResendConfirmation は確認メールを再送する。
// メールアドレスの存在や確認状態によらず成功を返す。
func (m *AccountManager) ResendConfirmation(ctx context.Context, rawEmail string) error {
	user, err := m.lookupForMail(ctx, rawEmail)
	if err != nil || user == nil {
		return err
	}
	if user.Confirmed() && !user.PendingReconfirmation() {
		return nil
	}

	raw, digest, err := generateToken()
	if err != nil {
		return model.NewInternalError(err)
	}
	now := m.cfg.Now()
	user.ConfirmationToken = digest
	user.ConfirmationSentAt = &now
	user.UpdatedAt = now
	if err := m.users.Update(ctx, user); err != nil {
		return model.NewInternalError(err)
	}

	to := user.Email
	if user.PendingReconfirmation() {
		to = user.UnconfirmedEmail
	}
	if err := m.sendConfirmation(ctx, user, to, raw); err != nil {
		slog.ErrorContext(ctx, "failed to resend confirmation", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return nil
}

// RequestPasswordReset はパスワード再設定メールを送信する。
// メールアドレスの存在によらず成功を返す。
func (m *AccountManager) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	user, err := m.lookupForMail(ctx, rawEmail)
	if err != nil || user == nil {
		return err
	}

	raw, digest, err := generateToken()
	if err != nil {
		return model.NewInternalError(err)
	}
	now := m.cfg.Now()
	user.ResetPasswordToken = digest
	user.ResetPasswordSentAt = &now
	user.UpdatedAt = now
	if err := m.users.Update(ctx, user); err != nil {
		return model.NewInternalError(err)
	}

	err = m.send(ctx, mail.Message{
		To:       user.Email,
		Template: mail.TemplateResetPasswordInstructions,
		Vars: map[string]any{
			"Name":      user.Name,
			"Email":     user.Email,
			"URL":       m.link("/users/password/edit", "reset_password_token", raw),
			"ExpiresIn": humanDuration(m.cfg.ResetPasswordWithin),
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send reset password instructions", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return nil
}

// ResetPassword は再設定トークンを検証してパスワードを更新する。
// SignInAfterResetが有効な場合は新しいトークンも返す。
func (m *AccountManager) ResetPassword(ctx context.Context, p ResetPasswordParams, ip string) (*model.User, string, error) {
	var user *model.User
	if p.Token != "" {
		var err error
		user, err = m.users.FindByResetPasswordToken(ctx, digestToken(p.Token))
		if err != nil {
			return nil, "", model.NewInternalError(err)
		}
	}
	if user == nil {
		return nil, "", model.NewValidationError(msgResetTokenInvalid)
	}

	now := m.cfg.Now()
	if expired(user.ResetPasswordSentAt, m.cfg.ResetPasswordWithin, now) {
		return nil, "", model.NewValidationError(msgResetTokenExpired)
	}
	if msgs := validatePassword(p.Password, p.PasswordConfirmation); len(msgs) > 0 {
		return nil, "", model.NewValidationError(msgs...)
	}

	hash, err := m.hasher.Hash(p.Password)
	if err != nil {
		return nil, "", model.NewInternalError(err)
	}
	user.EncryptedPassword = hash
	user.ResetPasswordToken = ""
	user.ResetPasswordSentAt = nil
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = now
	if err := m.users.Update(ctx, user); err != nil {
		return nil, "", model.NewInternalError(err)
	}

	slog.InfoContext(ctx, "password reset", slog.String("user_id", user.ID))

	err = m.send(ctx, mail.Message{
		To:       user.Email,
		Template: mail.TemplatePasswordChange,
		Vars:     map[string]any{"Name": user.Name, "Email": user.Email},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send password change notification", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}

	if !m.cfg.SignInAfterReset {
		return user, "", nil
	}
	tok, err := m.sessions.SignIn(ctx, user, ip)
	if err != nil {
		return nil, "", err
	}
	return user, tok, nil
}

// ChangeEmail はメールアドレスの変更を受け付け、新しいアドレスに確認メールを送る。
// 確認が完了するまで現在のメールアドレスは変わらない。
func (m *AccountManager) ChangeEmail(ctx context.Context, userID, newEmail, currentPassword string) (*model.User, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError("")
	}

	if err := m.hasher.Compare(user.EncryptedPassword, currentPassword); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return nil, model.NewValidationError(msgCurrentPasswordWrong)
		}
		return nil, model.NewInternalError(err)
	}

	email, msgs := validateEmail(newEmail)
	if len(msgs) > 0 {
		return nil, model.NewValidationError(msgs...)
	}
	if email == user.Email {
		return user, nil
	}

	existing, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if existing != nil {
		return nil, model.NewValidationError(msgEmailTaken)
	}

	raw, digest, err := generateToken()
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	now := m.cfg.Now()
	user.UnconfirmedEmail = email
	user.ConfirmationToken = digest
	user.ConfirmationSentAt = &now
	user.UpdatedAt = now
	if err := m.users.Update(ctx, user); err != nil {
		return nil, model.NewInternalError(err)
	}

	if err := m.sendConfirmation(ctx, user, email, raw); err != nil {
		return nil, model.NewInternalError(err)
	}
	return user, nil
}

// lookupForMail はメール送信系の操作で対象ユーザーを探す。
// 不正な形式や未登録の場合はnil, nilを返す。
func (m *AccountManager) lookupForMail(ctx context.Context, rawEmail string) (*model.User, error) {
	email, err := security.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, nil
	}
	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	return user, nil
}

func (m *AccountManager) sendConfirmation(ctx context.Context, user *model.User, to, raw string) error {
	return m.send(ctx, mail.Message{
		To:       to,
		Template: mail.TemplateConfirmationInstructions,
		Vars: map[string]any{
			"Name":      user.Name,
			"Email":     to,
			"URL":       m.link("/users/confirmation", "confirmation_token", raw),
			"ExpiresIn": humanDuration(m.cfg.ConfirmWithin),
		},
	})
}

func (m *AccountManager) send(ctx context.Context, msg mail.Message) error {
	if err := m.mailer.Send(ctx, msg); err != nil {
		m.metrics.RecordMailFailure(msg.Template)
		return fmt.Errorf("failed to send %s mail: %w", msg.Template, err)
	}
	return nil
}

func (m *AccountManager) link(path, param, raw string) string {
	return m.cfg.BaseURL + path + "?" + url.Values{param: {raw}}.Encode()
}

// expired はsentAtからwithinを経過しているかを返す。sentAtが未設定の場合は期限切れとする。
func expired(sentAt *time.Time, within time.Duration, now time.Time) bool {
	return sentAt == nil || !now.Before(sentAt.Add(within))
}

// humanDuration はメール本文用に有効期間を表示する。
func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d時間", int(d/time.Hour))
	}
	return fmt.Sprintf("%d分", int(d/time.Minute))
}
