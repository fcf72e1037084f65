package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/shunfish/internal/mail"
	"github.com/hitoshi/shunfish/internal/model"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/security"
	"github.com/hitoshi/shunfish/internal/token"
)

// fakeUserRepo はメモリ上のUserRepository。
// メールアドレス（大文字小文字を区別しない）とprovider+uidの一意性を再現する。
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User

	// beforeCreate が設定されている場合はCreateの直前に呼ばれる（同時作成の再現用）
	beforeCreate func()
	findErr      error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]model.User)}
}

func (r *fakeUserRepo) put(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = *u
}

func (r *fakeUserRepo) get(id string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (r *fakeUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *fakeUserRepo) findBy(match func(u model.User) bool) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *fakeUserRepo) FindByProvider(_ context.Context, provider, uid string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.Provider == provider && u.UID == uid && uid != "" })
}

func (r *fakeUserRepo) FindByConfirmationToken(_ context.Context, digest string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.ConfirmationToken != "" && u.ConfirmationToken == digest })
}

func (r *fakeUserRepo) FindByResetPasswordToken(_ context.Context, digest string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.ResetPasswordToken != "" && u.ResetPasswordToken == digest })
}

func (r *fakeUserRepo) conflicts(user *model.User) bool {
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) {
			return true
		}
		if user.UID != "" && u.Provider == user.Provider && u.UID == user.UID {
			return true
		}
	}
	return false
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(user) {
		return repository.ErrDuplicate
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return errors.New("user not found")
	}
	if r.conflicts(user) {
		return repository.ErrDuplicate
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) IncrementFailedAttempts(_ context.Context, id string, now time.Time, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		lu := lockedUntil
		u.LockedUntil = &lu
	}
	r.users[id] = u
	return u.FailedAttempts, u.LockedUntil, nil
}

func (r *fakeUserRepo) RecordSignIn(_ context.Context, id, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.LastSignInAt, u.LastSignInIP = u.CurrentSignInAt, u.CurrentSignInIP
	u.CurrentSignInAt, u.CurrentSignInIP = &at, ip
	u.SignInCount++
	u.FailedAttempts = 0
	u.LockedUntil = nil
	r.users[id] = u
	return nil
}

func (r *fakeUserRepo) ClearExpiredResetTokens(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, u := range r.users {
		if u.ResetPasswordToken != "" && u.ResetPasswordSentAt != nil && u.ResetPasswordSentAt.Before(before) {
			u.ResetPasswordToken = ""
			u.ResetPasswordSentAt = nil
			r.users[id] = u
			n++
		}
	}
	return n, nil
}

// fakeRevokedRepo はメモリ上のRevokedTokenRepository。
type fakeRevokedRepo struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newFakeRevokedRepo() *fakeRevokedRepo {
	return &fakeRevokedRepo{revoked: make(map[string]time.Time)}
}

func (r *fakeRevokedRepo) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.revoked[jti]
	return ok, nil
}

func (r *fakeRevokedRepo) Revoke(_ context.Context, jti string, exp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.revoked[jti]; !ok {
		r.revoked[jti] = exp
	}
	return nil
}

func (r *fakeRevokedRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, jti)
			n++
		}
	}
	return n, nil
}

// fakeMailer は送信内容を記録するMailer。
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// tokenFromURL はメール内URLのクエリから生トークンを取り出す。
func tokenFromURL(t *testing.T, msg mail.Message, param string) string {
	t.Helper()
	u, _ := msg.Vars["URL"].(string)
	i := strings.Index(u, param+"=")
	if i < 0 {
		t.Fatalf("URL %q does not contain %s", u, param)
	}
	return u[i+len(param)+1:]
}

// fakeGuard はhttps以外を拒否するSSRFGuardService。
type fakeGuard struct{}

func (fakeGuard) NewSafeClient(time.Duration) *http.Client { return http.DefaultClient }
func (fakeGuard) ValidateURL(raw string) error {
	if !strings.HasPrefix(raw, "https://") {
		return errors.New("blocked")
	}
	return nil
}

// clock はテスト用の可変な現在時刻。
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv は認証コンポーネント一式をフェイクで組み立てたもの。
type testEnv struct {
	clock    *clock
	users    *fakeUserRepo
	revoked  *fakeRevokedRepo
	mailer   *fakeMailer
	hasher   *BcryptHasher
	codec    *token.Codec
	verifier *CredentialVerifier
	sessions *SessionManager
	accounts *AccountManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:   newClock(),
		users:   newFakeUserRepo(),
		revoked: newFakeRevokedRepo(),
		mailer:  &fakeMailer{},
		hasher:  NewBcryptHasher(bcrypt.MinCost),
	}

	codec, err := token.NewCodec(token.Config{Secret: []byte("test-secret"), Now: env.clock.Now})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	env.codec = codec

	env.verifier = NewCredentialVerifier(env.users, env.hasher, CredentialConfig{Now: env.clock.Now})
	env.sessions = NewSessionManager(env.verifier, codec, env.users, env.revoked, nil, SessionConfig{Now: env.clock.Now})
	env.accounts = NewAccountManager(env.users, env.hasher, env.mailer, env.sessions, security.NewNameSanitizer(), nil, AccountConfig{
		BaseURL:          "https://shunfish.example.com/",
		SignInAfterReset: true,
		Now:              env.clock.Now,
	})
	return env
}

// createUser はパスワード付きの確認済みユーザーを作成する。
func (env *testEnv) createUser(t *testing.T, email, password string) *model.User {
	t.Helper()
	hash, err := env.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	now := env.clock.Now()
	u := &model.User{
		ID:                "user-" + email,
		Email:             email,
		EncryptedPassword: hash,
		Name:              "テスト",
		ConfirmedAt:       &now,
		Provider:          model.ProviderLocal,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	env.users.put(u)
	return u
}

// assertAPIError はerrが指定種別のAPIErrorであることを検証する。
func assertAPIError(t *testing.T, err error, kind model.ErrorKind) *model.APIError {
	t.Helper()
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Kind != kind {
		t.Fatalf("error kind = %q, want %q (%v)", apiErr.Kind, kind, err)
	}
	return apiErr
}
