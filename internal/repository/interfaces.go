// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/shunfish/internal/model"
)

// ErrDuplicate は一意制約違反を示す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
// Find系メソッドは見つからない場合にnilを返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProvider はproviderとuidの組でユーザーを取得する。
	FindByProvider(ctx context.Context, provider, uid string) (*model.User, error)

	// FindByConfirmationToken は確認トークンのダイジェストでユーザーを取得する。
	FindByConfirmationToken(ctx context.Context, digest string) (*model.User, error)

	// FindByResetPasswordToken はパスワード再設定トークンのダイジェストでユーザーを取得する。
	FindByResetPasswordToken(ctx context.Context, digest string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスまたはprovider+uidが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの全カラムを保存する。メールアドレスが重複する場合はErrDuplicateを返す。
	Update(ctx context.Context, user *model.User) error

	// IncrementFailedAttempts はログイン失敗回数を原子的に加算する。
	// 加算後の回数がmaxAttempts以上になった場合はlockedUntilまでロックする。
	// now時点でロック期限切れの場合は回数を1から数え直す。
	// 加算後の失敗回数とロック期限を返す。
	IncrementFailedAttempts(ctx context.Context, id string, now time.Time, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error)

	// DeleteByID はユーザーを削除する。該当ユーザーがいない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// RecordSignIn はサインイン成功を記録し、失敗回数とロックをリセットする。
	RecordSignIn(ctx context.Context, id, ip string, at time.Time) error

	// ClearExpiredResetTokens はbefore以前に送信されたパスワード再設定トークンを消去する。
	ClearExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}

// RevokedTokenRepository は失効トークンの永続化インターフェース（Revocation Store）。
type RevokedTokenRepository interface {
	// IsRevoked はjtiが失効済みかを返す。
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Revoke はjtiを失効させる。既に失効済みの場合も成功として扱う。
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error

	// SweepExpired は有効期限がnow以前の行を削除し、削除件数を返す。
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
