package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/shunfish/internal/model"
)

// DefaultProviderTimeout は外部IdPへの1リクエストあたりの既定の上限時間。
const DefaultProviderTimeout = 10 * time.Second

// maxProviderResponseSize はIdPレスポンスの読み取り上限。
const maxProviderResponseSize = 1 << 20

// Credential はOAuthコールバックで受け取る資格情報。
// TokenとCodeのどちらか一方を指定する。
type Credential struct {
	Token string // Googleのアクセストークン、またはLINEのIDトークン
	Code  string // 認可コード
}

// IdentityProvider は外部IdPの資格情報を正規化されたプロフィールに変換する。
type IdentityProvider interface {
	// Name はプロバイダ名（model.ProviderGoogle等）を返す。
	Name() string
	// Resolve はクライアント側のフローで取得した資格情報を検証し、プロフィールを返す。
	Resolve(ctx context.Context, credential string) (*model.Profile, error)
	// ExchangeCode は認可コードを交換し、プロフィールを返す。
	ExchangeCode(ctx context.Context, code string) (*model.Profile, error)
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultProviderTimeout}
}

// postForm はフォームをPOSTし、JSONレスポンスをoutにデコードする。
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doJSON(client, req, out)
}

// getJSON はBearerトークン付きでGETし、JSONレスポンスをoutにデコードする。
func getJSON(ctx context.Context, client *http.Client, endpoint, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	return doJSON(client, req, out)
}

// doJSON はリクエストを送信する。
// 400/401/403は資格情報の拒否（ErrCredentialRejected）、それ以外の失敗は通信障害として返す。
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrCredentialRejected, resp.StatusCode, string(body))
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
