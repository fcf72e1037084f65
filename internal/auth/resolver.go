package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shunfish/internal/metrics"
	"github.com/hitoshi/shunfish/internal/model"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/security"
)

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	Now func() time.Time
}

// Resolver は外部IdPの資格情報をローカルユーザーに対応づける。
type Resolver struct {
	providers map[string]IdentityProvider
	users     repository.UserRepository
	hasher    PasswordHasher
	sessions  *SessionManager
	sanitizer security.NameSanitizerService
	guard     security.SSRFGuardService
	metrics   metrics.MetricsCollector
	cfg       ResolverConfig
}

// NewResolver はResolverを生成する。
func NewResolver(
	providers []IdentityProvider,
	users repository.UserRepository,
	hasher PasswordHasher,
	sessions *SessionManager,
	sanitizer security.NameSanitizerService,
	guard security.SSRFGuardService,
	collector metrics.MetricsCollector,
	cfg ResolverConfig,
) *Resolver {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	byName := make(map[string]IdentityProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Resolver{
		providers: byName,
		users:     users,
		hasher:    hasher,
		sessions:  sessions,
		sanitizer: sanitizer,
		guard:     guard,
		metrics:   collector,
		cfg:       cfg,
	}
}

// Resolve は資格情報をプロバイダで検証し、正規化されたプロフィールを返す。
// 資格情報が拒否された場合は401、通信障害の場合は502相当のAPIErrorを返す。
func (r *Resolver) Resolve(ctx context.Context, providerName string, cred Credential) (*model.Profile, error) {
	provider, ok := r.providers[providerName]
	if !ok {
		return nil, model.NewProviderError(providerName, fmt.Errorf("provider is not configured"))
	}

	var (
		profile *model.Profile
		err     error
	)
	switch {
	case cred.Token != "":
		profile, err = provider.Resolve(ctx, cred.Token)
	case cred.Code != "":
		profile, err = provider.ExchangeCode(ctx, cred.Code)
	default:
		return nil, model.NewUnauthorizedError("認証情報が指定されていません。")
	}

	if err != nil {
		if errors.Is(err, ErrCredentialRejected) {
			slog.WarnContext(ctx, "oauth credential rejected",
				slog.String("provider", providerName),
				slog.String("error", err.Error()),
			)
			return nil, model.NewUnauthorizedError("")
		}
		return nil, model.NewProviderError(providerName, err)
	}
	return profile, nil
}

// FindOrCreateUser はプロフィールに対応するユーザーを返す。
// provider+uid、メールアドレスの順に既存ユーザーを探し、見つかった場合はIdP情報を紐付けて保存する。
// 見つからない場合はランダムなパスワードを持つ確認済みユーザーを作成する。
func (r *Resolver) FindOrCreateUser(ctx context.Context, profile *model.Profile) (*model.User, error) {
	user, err := r.users.FindByProvider(ctx, profile.Provider, profile.ProviderUID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user != nil {
		return r.link(ctx, user, profile)
	}

	if profile.Email == "" {
		return nil, model.NewValidationError("メールアドレスを取得できませんでした。メールアドレスの提供を許可してください")
	}
	email, err := security.NormalizeEmail(profile.Email)
	if err != nil {
		return nil, model.NewValidationError(msgEmailInvalid)
	}

	user, err = r.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user != nil {
		return r.link(ctx, user, profile)
	}

	user, err = r.newUser(email, profile)
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	err = r.users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同じIdPアカウントの初回ログインが同時に発生した場合は、先に作成された行を使う
		existing, findErr := r.users.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, model.NewInternalError(findErr)
		}
		if existing == nil {
			return nil, model.NewInternalError(fmt.Errorf("user disappeared after duplicate insert: %w", err))
		}
		return r.link(ctx, existing, profile)
	}
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	slog.InfoContext(ctx, "user created from oauth profile",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

// Login はOAuthの資格情報でログインし、ユーザーとトークンを返す。
// レスポンス形式はプロバイダによらず同一。
func (r *Resolver) Login(ctx context.Context, providerName string, cred Credential, ip string) (*model.User, string, error) {
	user, tok, err := r.login(ctx, providerName, cred, ip)
	if err != nil {
		result := metrics.ResultFailure
		if apiErr, ok := model.AsAPIError(err); ok && apiErr.Kind != model.KindUnauthorized {
			result = metrics.ResultError
		}
		r.metrics.RecordOAuthLogin(providerName, result)
		return nil, "", err
	}
	r.metrics.RecordOAuthLogin(providerName, metrics.ResultSuccess)
	return user, tok, nil
}

func (r *Resolver) login(ctx context.Context, providerName string, cred Credential, ip string) (*model.User, string, error) {
	profile, err := r.Resolve(ctx, providerName, cred)
	if err != nil {
		return nil, "", err
	}
	user, err := r.FindOrCreateUser(ctx, profile)
	if err != nil {
		return nil, "", err
	}
	tok, err := r.sessions.SignIn(ctx, user, ip)
	if err != nil {
		return nil, "", err
	}
	return user, tok, nil
}

// link は既存ユーザーにIdP情報を紐付ける。変更がなければ保存しない。
func (r *Resolver) link(ctx context.Context, user *model.User, profile *model.Profile) (*model.User, error) {
	picture := r.safePicture(profile.PictureURL)

	changed := false
	if user.Provider != profile.Provider {
		user.Provider = profile.Provider
		changed = true
	}
	if user.UID != profile.ProviderUID {
		user.UID = profile.ProviderUID
		changed = true
	}
	if picture != "" && user.ImageURL != picture {
		user.ImageURL = picture
		changed = true
	}
	if !changed {
		return user, nil
	}

	user.UpdatedAt = r.cfg.Now()
	if err := r.users.Update(ctx, user); err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to link oauth identity: %w", err))
	}

	slog.InfoContext(ctx, "oauth identity linked",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

func (r *Resolver) newUser(email string, profile *model.Profile) (*model.User, error) {
	password, err := randomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	name := truncateName(r.sanitizer.Sanitize(profile.Name))
	if name == "" {
		// 表示名が提供されない場合はメールアドレスのローカル部を使う
		name = truncateName(email[:strings.LastIndex(email, "@")])
	}

	now := r.cfg.Now()
	return &model.User{
		ID:                uuid.New().String(),
		Email:             email,
		EncryptedPassword: hash,
		Name:              name,
		ConfirmedAt:       &now,
		Provider:          profile.Provider,
		UID:               profile.ProviderUID,
		ImageURL:          r.safePicture(profile.PictureURL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// safePicture は安全でない画像URLを空文字列に置き換える。
func (r *Resolver) safePicture(raw string) string {
	if raw == "" {
		return ""
	}
	if err := r.guard.ValidateURL(raw); err != nil {
		slog.Debug("discarding unsafe profile picture url", slog.String("error", err.Error()))
		return ""
	}
	return raw
}

