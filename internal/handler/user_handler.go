package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Withdraw(ctx context.Context, userID, rawToken, currentPassword string) error
}

// UserHandler は退会のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type withdrawRequest struct {
	User struct {
		CurrentPassword string `json:"current_password"`
	} `json:"user"`
}

// Withdraw はログイン中のユーザーを退会させる。
// 外部IdPのユーザーはボディを省略できる。
// DELETE /users
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewUnauthorizedError("ログインしてください。"))
		return
	}

	var req withdrawRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := h.service.Withdraw(r.Context(), userID, middleware.BearerToken(r), req.User.CurrentPassword); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, envelope{Message: "退会しました。"})
}
