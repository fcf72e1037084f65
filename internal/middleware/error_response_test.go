package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/shunfish/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteError_StatusMapping はエラー種別とHTTPステータスの対応を検証する。
func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"認証失敗", model.NewUnauthorizedError(""), http.StatusUnauthorized},
		{"ログイン失敗", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"バリデーション", model.NewValidationError("x"), http.StatusUnprocessableEntity},
		{"未検出", model.NewNotFoundError("ユーザー"), http.StatusNotFound},
		{"IdP障害", model.NewProviderError("line", errors.New("timeout")), http.StatusBadGateway},
		{"内部エラー", model.NewInternalError(errors.New("boom")), http.StatusInternalServerError},
		{"APIError以外", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decodeErrorBody(t, w)
			if body["status"] != float64(tt.wantStatus) {
				t.Errorf("body.status = %v, want %d", body["status"], tt.wantStatus)
			}
		})
	}
}

// TestWriteError_ValidationIncludesErrors はバリデーションエラーのみerrorsを含むことを検証する。
func TestWriteError_ValidationIncludesErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodPost, "/users", nil),
		model.NewValidationError("メールアドレスを入力してください", "パスワードを入力してください"))

	body := decodeErrorBody(t, w)
	errs, ok := body["errors"].([]any)
	if !ok || len(errs) != 2 {
		t.Fatalf("errors = %v, want 2 messages", body["errors"])
	}
	if errs[0] != "メールアドレスを入力してください" {
		t.Errorf("errors[0] = %v", errs[0])
	}

	w = httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), model.NewUnauthorizedError(""))
	if _, ok := decodeErrorBody(t, w)["errors"]; ok {
		t.Error("non-validation error should not include errors")
	}
}

// TestWriteError_HidesInternalDetail は内部エラーの詳細がレスポンスに含まれないことを検証する。
func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil),
		model.NewInternalError(errors.New("pq: password authentication failed for user shunfish")))

	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("response leaks internal detail: %s", w.Body.String())
	}
	body := decodeErrorBody(t, w)
	if body["message"] != "内部エラーが発生しました。" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body["message"] == "" {
		t.Error("message should not be empty")
	}
}
