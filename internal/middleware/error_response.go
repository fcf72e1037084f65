package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shunfish/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// バリデーションエラーの場合のみErrorsを含む。
type ErrorResponseBody struct {
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// WriteError はerrを統一エラーフォーマットで書き込む。
// APIError以外のエラーは500とし、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		apiErr = model.NewInternalError(err)
	}

	status := apiErr.Status()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
	}

	body := ErrorResponseBody{Status: status, Message: apiErr.Message}
	if apiErr.Kind == model.KindValidation {
		body.Errors = apiErr.Errors
		if body.Errors == nil {
			body.Errors = []string{}
		}
	}
	writeJSON(w, status, body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponseBody{
		Status:  http.StatusInternalServerError,
		Message: model.NewInternalError(nil).Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
