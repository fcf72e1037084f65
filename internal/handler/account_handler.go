package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/shunfish/internal/auth"
	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Register(ctx context.Context, p auth.RegisterParams) (*model.User, error)
	ConfirmEmail(ctx context.Context, raw string) (*model.User, error)
	ResendConfirmation(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, p auth.ResetPasswordParams, ip string) (*model.User, string, error)
	ChangeEmail(ctx context.Context, userID, newEmail, currentPassword string) (*model.User, error)
}

// アカウント存在の有無によらず同じ文面を返す
const (
	msgResendAccepted = "メールアドレスが登録済みの場合、本人確認用のメールが数分以内に送信されます。"
	msgResetAccepted  = "メールアドレスが登録済みの場合、パスワード再設定用のメールが数分以内に送信されます。"
)

// AccountHandler はユーザー登録・メールアドレス確認・パスワード再設定のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

type registerRequest struct {
	User struct {
		Email                string `json:"email"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
		Name                 string `json:"name"`
	} `json:"user"`
}

type emailRequest struct {
	User struct {
		Email string `json:"email"`
	} `json:"user"`
}

type resetPasswordRequest struct {
	User struct {
		ResetPasswordToken   string `json:"reset_password_token"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	} `json:"user"`
}

type changeEmailRequest struct {
	User struct {
		Email           string `json:"email"`
		CurrentPassword string `json:"current_password"`
	} `json:"user"`
}

type registeredResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Register はユーザーを登録し、確認メールを送信する。ログインは行わない。
// POST /users
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterParams{
		Email:                req.User.Email,
		Password:             req.User.Password,
		PasswordConfirmation: req.User.PasswordConfirmation,
		Name:                 req.User.Name,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, envelope{
		Message: "本人確認用のメールを送信しました。メール内のリンクからアカウントを有効化してください。",
		Data:    registeredResponse{Email: user.Email, Name: user.Name},
	})
}

// Confirm はメールアドレスを確認済みにする。
// GET /users/confirmation?confirmation_token=xxx
func (h *AccountHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.ConfirmEmail(r.Context(), r.URL.Query().Get("confirmation_token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, envelope{
		Message: "メールアドレスが確認できました。",
		Data:    toUserResponse(user),
	})
}

// ResendConfirmation は確認メールを再送する。
// POST /users/confirmation
func (h *AccountHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.ResendConfirmation(r.Context(), req.User.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, envelope{Message: msgResendAccepted})
}

// RequestPasswordReset はパスワード再設定メールを送信する。
// POST /users/password
func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.User.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, envelope{Message: msgResetAccepted})
}

// ResetPassword は再設定トークンでパスワードを変更する。
// PUT/PATCH /users/password
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.service.ResetPassword(r.Context(), auth.ResetPasswordParams{
		Token:                req.User.ResetPasswordToken,
		Password:             req.User.Password,
		PasswordConfirmation: req.User.PasswordConfirmation,
	}, middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSignedIn(w, "パスワードが正しく変更されました。", user, token)
}

// ChangeEmail はメールアドレスの変更を受け付ける。新しいアドレスは確認後に有効になる。
// PUT /users
func (h *AccountHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewUnauthorizedError("ログインしてください。"))
		return
	}

	var req changeEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.service.ChangeEmail(r.Context(), userID, req.User.Email, req.User.CurrentPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, envelope{
		Message: "新しいメールアドレスに確認メールを送信しました。確認が完了するまで現在のメールアドレスが使用されます。",
		Data:    toUserResponse(user),
	})
}
