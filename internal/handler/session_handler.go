package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/model"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	Login(ctx context.Context, email, password, ip string) (*model.User, string, error)
	Logout(ctx context.Context, raw string) error
}

// SessionHandler はログイン・ログアウトのHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

type signInRequest struct {
	User struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"user"`
}

// SignIn はメールアドレスとパスワードでログインする。
// POST /users/sign_in
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.service.Login(r.Context(), req.User.Email, req.User.Password, middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSignedIn(w, "ログインしました。", user, token)
}

// SignOut はBearerトークンを失効させる。
// DELETE /users/sign_out
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, envelope{Message: "ログアウトしました。"})
}

// Me は現在のログインユーザー情報を返す。
// GET /users/me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, model.NewUnauthorizedError("ログインしてください。"))
		return
	}
	writeJSON(w, envelope{Data: toUserResponse(user)})
}
