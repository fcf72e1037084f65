// Package model はドメインモデルを定義する。
package model

import "time"

// プロバイダー名
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google_oauth2"
	ProviderLine   = "line"
)

// User はサービス利用ユーザーを表す。
// EncryptedPasswordはOAuthのみのアカウントでも空にならない（ログインに使われないランダム値をハッシュ化して保持する）。
type User struct {
	ID                string
	Email             string
	EncryptedPassword string
	Name              string

	// メールアドレス確認
	ConfirmationToken  string // SHA-256ダイジェスト
	ConfirmedAt        *time.Time
	ConfirmationSentAt *time.Time
	UnconfirmedEmail   string // 変更後、確認待ちのメールアドレス

	// 外部IdP
	Provider string
	UID      string
	ImageURL string

	// サインイン履歴（参考情報）
	SignInCount     int
	CurrentSignInAt *time.Time
	LastSignInAt    *time.Time
	CurrentSignInIP string
	LastSignInIP    string

	// アカウントロック
	FailedAttempts int
	LockedUntil    *time.Time

	// パスワード再設定
	ResetPasswordToken  string // SHA-256ダイジェスト
	ResetPasswordSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Confirmed はメールアドレス確認済みかを返す。
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// LockedAt は指定時刻にアカウントがロック中かを返す。
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// PendingReconfirmation はメールアドレス変更の確認待ちかを返す。
func (u *User) PendingReconfirmation() bool {
	return u.UnconfirmedEmail != ""
}

// RevokedToken は無効化されたセッショントークンを表す。
// 行が存在する間、該当jtiのトークンは埋め込まれた有効期限にかかわらず無効となる。
type RevokedToken struct {
	JTI       string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionClaims は検証済みセッショントークンの内容。
type SessionClaims struct {
	UserID    string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Profile は外部IdPから取得し正規化したユーザー情報。
type Profile struct {
	Provider    string
	ProviderUID string
	Email       string
	Name        string
	PictureURL  string
}
