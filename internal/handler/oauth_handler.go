package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/shunfish/internal/auth"
	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/model"
)

// OAuthServiceInterface はOAuthハンドラーが必要とするサービスインターフェース。
type OAuthServiceInterface interface {
	Login(ctx context.Context, provider string, cred auth.Credential, ip string) (*model.User, string, error)
}

// OAuthHandler はGoogle・LINEログインのコールバックを処理する。
type OAuthHandler struct {
	service OAuthServiceInterface
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service OAuthServiceInterface) *OAuthHandler {
	return &OAuthHandler{service: service}
}

// oauthCallbackRequest はコールバックの入力。
// Googleはcredential（アクセストークン）、LINEはid_token、いずれも認可コードの場合はcode。
type oauthCallbackRequest struct {
	Credential string `json:"credential"`
	IDToken    string `json:"id_token"`
	Code       string `json:"code"`
}

// GoogleCallback はGoogleの資格情報でログインする。
// POST /auth/google_oauth2/callback
func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, model.ProviderGoogle, func(req oauthCallbackRequest) string { return req.Credential })
}

// LineCallback はLINEのIDトークンでログインする。
// POST /auth/line/callback
func (h *OAuthHandler) LineCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, model.ProviderLine, func(req oauthCallbackRequest) string { return req.IDToken })
}

func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request, provider string, tokenOf func(oauthCallbackRequest) string) {
	var req oauthCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cred := auth.Credential{Token: tokenOf(req), Code: req.Code}
	user, token, err := h.service.Login(r.Context(), provider, cred, middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSignedIn(w, "ログインしました。", user, token)
}
