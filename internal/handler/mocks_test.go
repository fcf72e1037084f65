package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/shunfish/internal/auth"
	"github.com/hitoshi/shunfish/internal/model"
)

// --- モック定義 ---

type mockSessionService struct {
	loginFn  func(ctx context.Context, email, password, ip string) (*model.User, string, error)
	logoutFn func(ctx context.Context, raw string) error
}

func (m *mockSessionService) Login(ctx context.Context, email, password, ip string) (*model.User, string, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password, ip)
	}
	return nil, "", model.NewInvalidCredentialsError()
}

func (m *mockSessionService) Logout(ctx context.Context, raw string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, raw)
	}
	return nil
}

type mockAccountService struct {
	registerFn             func(ctx context.Context, p auth.RegisterParams) (*model.User, error)
	confirmEmailFn         func(ctx context.Context, raw string) (*model.User, error)
	resendConfirmationFn   func(ctx context.Context, email string) error
	requestPasswordResetFn func(ctx context.Context, email string) error
	resetPasswordFn        func(ctx context.Context, p auth.ResetPasswordParams, ip string) (*model.User, string, error)
	changeEmailFn          func(ctx context.Context, userID, newEmail, currentPassword string) (*model.User, error)
}

func (m *mockAccountService) Register(ctx context.Context, p auth.RegisterParams) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, p)
	}
	return nil, nil
}

func (m *mockAccountService) ConfirmEmail(ctx context.Context, raw string) (*model.User, error) {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, raw)
	}
	return nil, model.NewValidationError("invalid")
}

func (m *mockAccountService) ResendConfirmation(ctx context.Context, email string) error {
	if m.resendConfirmationFn != nil {
		return m.resendConfirmationFn(ctx, email)
	}
	return nil
}

func (m *mockAccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAccountService) ResetPassword(ctx context.Context, p auth.ResetPasswordParams, ip string) (*model.User, string, error) {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, p, ip)
	}
	return nil, "", model.NewValidationError("invalid")
}

func (m *mockAccountService) ChangeEmail(ctx context.Context, userID, newEmail, currentPassword string) (*model.User, error) {
	if m.changeEmailFn != nil {
		return m.changeEmailFn(ctx, userID, newEmail, currentPassword)
	}
	return nil, nil
}

type mockOAuthService struct {
	loginFn func(ctx context.Context, provider string, cred auth.Credential, ip string) (*model.User, string, error)
}

func (m *mockOAuthService) Login(ctx context.Context, provider string, cred auth.Credential, ip string) (*model.User, string, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, provider, cred, ip)
	}
	return nil, "", model.NewUnauthorizedError("")
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID, rawToken, currentPassword string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID, rawToken, currentPassword string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID, rawToken, currentPassword)
	}
	return nil
}

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, raw string) (*model.User, *model.SessionClaims, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, raw string) (*model.User, *model.SessionClaims, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, raw)
	}
	return nil, nil, model.NewUnauthorizedError("")
}

// --- ヘルパー ---

func testUser() *model.User {
	return &model.User{
		ID:        "user-123",
		Email:     "taro@example.com",
		Name:      "太郎",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// responseBody はテスト用に全フィールドを受け取るレスポンス形式。
type responseBody struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Token   string          `json:"token"`
	Errors  []string        `json:"errors"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) responseBody {
	t.Helper()
	var body responseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

func decodeUserData(t *testing.T, body responseBody) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	return data
}
