// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/model"
)

// maxRequestBodySize はリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// envelope は成功レスポンスの共通フォーマット。
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Token   string `json:"token,omitempty"`
}

// userResponse はユーザー情報のレスポンス形式。ログイン方法によらず同一。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// writeJSON は200のJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, body envelope) {
	body.Status = http.StatusOK
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeSignedIn はユーザーとトークンを返す。トークンはAuthorizationヘッダーにも設定する。
func writeSignedIn(w http.ResponseWriter, message string, user *model.User, token string) {
	if token != "" {
		w.Header().Set("Authorization", "Bearer "+token)
	}
	writeJSON(w, envelope{
		Message: message,
		Data:    toUserResponse(user),
		Token:   token,
	})
}

// decodeJSON はリクエストボディをdstにデコードする。形式不正はバリデーションエラーとして返す。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("リクエストボディが空です")
		}
		return model.NewValidationError("リクエストの形式が不正です")
	}
	return nil
}

// writeError は統一エラーフォーマットで書き込む。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}
