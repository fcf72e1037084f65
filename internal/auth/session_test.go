package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/shunfish/internal/model"
)

func TestSessionManager_LoginThenAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	ctx := context.Background()

	got, tok, err := env.sessions.Login(ctx, "a@x.com", "secret1", "192.0.2.10")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got.ID != user.ID || tok == "" {
		t.Fatalf("Login() = %v, %q", got, tok)
	}

	authed, claims, err := env.sessions.Authenticate(ctx, tok)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authed.ID != user.ID || authed.Email != user.Email {
		t.Errorf("Authenticate() user = %+v, want %+v", authed, user)
	}
	if claims.UserID != user.ID {
		t.Errorf("claims.UserID = %q", claims.UserID)
	}

	stored := env.users.get(user.ID)
	if stored.SignInCount != 1 || stored.CurrentSignInIP != "192.0.2.10" {
		t.Errorf("sign-in not recorded: count=%d ip=%q", stored.SignInCount, stored.CurrentSignInIP)
	}
}

// 未登録メールアドレスとパスワード不一致で同じレスポンスになることを検証
func TestSessionManager_Login_IndistinguishableFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "a@x.com", "secret1")
	ctx := context.Background()

	_, _, errWrong := env.sessions.Login(ctx, "a@x.com", "wrong", "")
	_, _, errMissing := env.sessions.Login(ctx, "nobody@x.com", "secret1", "")

	a := assertAPIError(t, errWrong, model.KindUnauthorized)
	b := assertAPIError(t, errMissing, model.KindUnauthorized)
	if a.Code != b.Code || a.Message != b.Message || a.Status() != b.Status() {
		t.Errorf("responses differ: %+v vs %+v", a, b)
	}
}

func TestSessionManager_Login_LockedAccountLooksLikeBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "a@x.com", "secret1")
	ctx := context.Background()

	var lastErr error
	for i := 0; i < DefaultMaxFailedAttempts+1; i++ {
		_, _, lastErr = env.sessions.Login(ctx, "a@x.com", "wrong", "")
	}
	apiErr := assertAPIError(t, lastErr, model.KindUnauthorized)
	if apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeInvalidCredentials)
	}
}

// 未確認ユーザーも既定ではログインできることを検証
func TestSessionManager_Login_UnconfirmedAllowedByDefault(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	user.ConfirmedAt = nil
	env.users.put(user)

	if _, _, err := env.sessions.Login(context.Background(), "a@x.com", "secret1", ""); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func TestSessionManager_Login_RequireConfirmation(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	user.ConfirmedAt = nil
	env.users.put(user)

	sessions := NewSessionManager(env.verifier, env.codec, env.users, env.revoked, nil, SessionConfig{
		RequireConfirmation: true,
		Now:                 env.clock.Now,
	})
	_, _, err := sessions.Login(context.Background(), "a@x.com", "secret1", "")
	assertAPIError(t, err, model.KindUnauthorized)
}

func TestSessionManager_LogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "a@x.com", "secret1")
	ctx := context.Background()

	_, tok, err := env.sessions.Login(ctx, "a@x.com", "secret1", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := env.sessions.Logout(ctx, tok); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	// 二重ログアウトも成功する
	if err := env.sessions.Logout(ctx, tok); err != nil {
		t.Fatalf("second Logout() error = %v", err)
	}

	_, _, err = env.sessions.Authenticate(ctx, tok)
	apiErr := assertAPIError(t, err, model.KindUnauthorized)
	if apiErr.Code != model.ErrCodeTokenRevoked {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeTokenRevoked)
	}
}

func TestSessionManager_Logout_ExpiredTokenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")

	tok, _, err := env.codec.Issue(user.ID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	env.clock.Advance(env.codec.TTL() + time.Minute)

	if err := env.sessions.Logout(context.Background(), tok); err != nil {
		t.Fatalf("Logout() of expired token error = %v", err)
	}
	if len(env.revoked.revoked) != 0 {
		t.Error("expired token should not be stored")
	}
}

func TestSessionManager_Logout_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []string{"", "garbage"} {
		err := env.sessions.Logout(context.Background(), raw)
		assertAPIError(t, err, model.KindUnauthorized)
	}
}

func TestSessionManager_Logout_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	tok, _, _ := env.codec.Issue(user.ID)
	env.revoked.err = errors.New("db down")

	err := env.sessions.Logout(context.Background(), tok)
	assertAPIError(t, err, model.KindInternal)
}

func TestSessionManager_Authenticate_Failures(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	ctx := context.Background()

	expiredTok, _, _ := env.codec.Issue(user.ID)
	env.clock.Advance(env.codec.TTL() + time.Second)
	orphanTok, _, _ := env.codec.Issue("deleted-user")

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"空トークン", "", model.ErrCodeUnauthorized},
		{"形式不正", "a.b.c", model.ErrCodeUnauthorized},
		{"期限切れ", expiredTok, model.ErrCodeTokenExpired},
		{"ユーザー削除済み", orphanTok, model.ErrCodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.sessions.Authenticate(ctx, tt.token)
			apiErr := assertAPIError(t, err, model.KindUnauthorized)
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestSessionManager_Authenticate_StoreFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@x.com", "secret1")
	tok, _, _ := env.codec.Issue(user.ID)
	env.revoked.err = errors.New("db down")

	_, _, err := env.sessions.Authenticate(context.Background(), tok)
	assertAPIError(t, err, model.KindInternal)
}
