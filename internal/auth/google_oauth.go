package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/shunfish/internal/model"
)

const (
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	TokenURL    string
	UserInfoURL string

	// HTTPClient はタイムアウト付きのクライアント。nilの場合はDefaultProviderTimeoutを使用する。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleのアクセストークンまたは認可コードからプロフィールを取得する。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleOAuthProvider{config: config, client: defaultHTTPClient(config.HTTPClient)}
}

// Name はプロバイダ名を返す。
func (p *GoogleOAuthProvider) Name() string {
	return model.ProviderGoogle
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Resolve はアクセストークンでユーザー情報エンドポイントを呼び出す。
func (p *GoogleOAuthProvider) Resolve(ctx context.Context, credential string) (*model.Profile, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrCredentialRejected)
	}

	info, err := p.fetchUserInfo(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &model.Profile{
		Provider:    model.ProviderGoogle,
		ProviderUID: info.Sub,
		Email:       info.Email,
		Name:        info.Name,
		PictureURL:  info.Picture,
	}, nil
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrCredentialRejected)
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	var tokenResp googleTokenResponse
	if err := postForm(ctx, p.client, p.config.TokenURL, form, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return p.Resolve(ctx, tokenResp.AccessToken)
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	var info googleUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}
	return &info, nil
}

// compile-time interface check
var _ IdentityProvider = (*GoogleOAuthProvider)(nil)
