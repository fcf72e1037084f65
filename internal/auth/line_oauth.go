package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/shunfish/internal/model"
)

const (
	defaultLineTokenURL = "https://api.line.me/oauth2/v2.1/token"
	// LineIssuer はLINEのIDトークンのiss。
	LineIssuer = "https://access.line.me"
)

// LineOAuthConfig はLINEログインの設定。
type LineOAuthConfig struct {
	ChannelID     string
	ChannelSecret string
	RedirectURL   string

	// テスト用にオーバーライド可能なURL
	TokenURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// LineOAuthProvider はLINEのIDトークンをチャネルシークレットで検証する。
type LineOAuthProvider struct {
	config LineOAuthConfig
	client *http.Client
}

// NewLineOAuthProvider はLineOAuthProviderを生成する。
func NewLineOAuthProvider(config LineOAuthConfig) *LineOAuthProvider {
	if config.TokenURL == "" {
		config.TokenURL = defaultLineTokenURL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LineOAuthProvider{config: config, client: defaultHTTPClient(config.HTTPClient)}
}

// Name はプロバイダ名を返す。
func (p *LineOAuthProvider) Name() string {
	return model.ProviderLine
}

// lineIDTokenClaims はLINEのIDトークンのペイロード。
type lineIDTokenClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

// lineTokenResponse はLINEのトークンエンドポイントのレスポンス。
type lineTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Resolve はIDトークンをHS256とチャネルシークレットで検証し、ペイロードからプロフィールを取り出す。
// iss、aud（チャネルID）、expも検証する。
func (p *LineOAuthProvider) Resolve(ctx context.Context, idToken string) (*model.Profile, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty id_token", ErrCredentialRejected)
	}
	if p.config.ChannelSecret == "" {
		return nil, fmt.Errorf("line channel secret is not configured")
	}

	claims := &lineIDTokenClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims,
		func(t *jwt.Token) (any, error) {
			return []byte(p.config.ChannelSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(LineIssuer),
		jwt.WithAudience(p.config.ChannelID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.config.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialRejected, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty sub in id_token", ErrCredentialRejected)
	}

	return &model.Profile{
		Provider:    model.ProviderLine,
		ProviderUID: claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		PictureURL:  claims.Picture,
	}, nil
}

// ExchangeCode は認可コードをトークンに交換し、同時に返されるIDトークンを検証する。
func (p *LineOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrCredentialRejected)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURL},
		"client_id":     {p.config.ChannelID},
		"client_secret": {p.config.ChannelSecret},
	}

	var tokenResp lineTokenResponse
	if err := postForm(ctx, p.client, p.config.TokenURL, form, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("empty id_token in response")
	}

	return p.Resolve(ctx, tokenResp.IDToken)
}

// compile-time interface check
var _ IdentityProvider = (*LineOAuthProvider)(nil)
