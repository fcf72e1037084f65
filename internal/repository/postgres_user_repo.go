package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/shunfish/internal/model"
)

// userColumns はusersテーブルのSELECT対象カラム。scanUserの順序と一致させること。
const userColumns = `id, email, encrypted_password, name,
	confirmation_token, confirmed_at, confirmation_sent_at, unconfirmed_email,
	provider, uid, image,
	sign_in_count, current_sign_in_at, last_sign_in_at, current_sign_in_ip, last_sign_in_ip,
	failed_attempts, locked_until,
	reset_password_token, reset_password_sent_at,
	created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by ID",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "find user by email",
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByProvider はproviderとuidでユーザーを取得する。
func (r *PostgresUserRepo) FindByProvider(ctx context.Context, provider, uid string) (*model.User, error) {
	return r.findOne(ctx, "find user by provider",
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND uid = $2`, provider, uid)
}

// FindByConfirmationToken は確認トークンのダイジェストでユーザーを取得する。
func (r *PostgresUserRepo) FindByConfirmationToken(ctx context.Context, digest string) (*model.User, error) {
	return r.findOne(ctx, "find user by confirmation token",
		`SELECT `+userColumns+` FROM users WHERE confirmation_token = $1`, digest)
}

// FindByResetPasswordToken はパスワード再設定トークンのダイジェストでユーザーを取得する。
func (r *PostgresUserRepo) FindByResetPasswordToken(ctx context.Context, digest string) (*model.User, error) {
	return r.findOne(ctx, "find user by reset password token",
		`SELECT `+userColumns+` FROM users WHERE reset_password_token = $1`, digest)
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		userArgs(user)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーの全カラムを保存する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			email = $2, encrypted_password = $3, name = $4,
			confirmation_token = $5, confirmed_at = $6, confirmation_sent_at = $7, unconfirmed_email = $8,
			provider = $9, uid = $10, image = $11,
			sign_in_count = $12, current_sign_in_at = $13, last_sign_in_at = $14,
			current_sign_in_ip = $15, last_sign_in_ip = $16,
			failed_attempts = $17, locked_until = $18,
			reset_password_token = $19, reset_password_sent_at = $20,
			created_at = $21, updated_at = $22
		 WHERE id = $1`,
		userArgs(user)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// DeleteByID はユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// IncrementFailedAttempts はログイン失敗回数を原子的に加算する。
// 同時に複数の失敗が発生しても取りこぼさないよう、読み取りと更新を1文で行う。
// ロック期限を過ぎている場合は回数を1から数え直す。
func (r *PostgresUserRepo) IncrementFailedAttempts(ctx context.Context, id string, now time.Time, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	var attempts int
	var locked sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2::timestamptz THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN
					CASE WHEN 1 >= $3::int THEN $4::timestamptz ELSE NULL END
				WHEN failed_attempts + 1 >= $3::int THEN $4::timestamptz
				ELSE locked_until
			END,
			updated_at = $2
		 WHERE id = $1
		 RETURNING failed_attempts, locked_until`,
		id, now, maxAttempts, lockedUntil,
	).Scan(&attempts, &locked)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return attempts, timePtr(locked), nil
}

// RecordSignIn はサインイン成功を記録する。
// 直前のサインイン情報をlast_*に移し、失敗回数とロックをリセットする。
func (r *PostgresUserRepo) RecordSignIn(ctx context.Context, id, ip string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			sign_in_count = sign_in_count + 1,
			last_sign_in_at = COALESCE(current_sign_in_at, $3),
			last_sign_in_ip = COALESCE(current_sign_in_ip, $2),
			current_sign_in_at = $3,
			current_sign_in_ip = $2,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = $3
		 WHERE id = $1`,
		id, nullString(ip), at,
	)
	if err != nil {
		return fmt.Errorf("failed to record sign in: %w", err)
	}
	return nil
}

// ClearExpiredResetTokens は期限切れのパスワード再設定トークンを消去する。
func (r *PostgresUserRepo) ClearExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_password_token = NULL, reset_password_sent_at = NULL
		 WHERE reset_password_token IS NOT NULL AND reset_password_sent_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired reset tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                                   model.User
		confirmationToken, unconfirmedEmail sql.NullString
		provider, uid, image                sql.NullString
		currentIP, lastIP, resetToken       sql.NullString
		confirmedAt, confirmationSentAt     sql.NullTime
		currentSignInAt, lastSignInAt       sql.NullTime
		lockedUntil, resetAt                sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.EncryptedPassword, &u.Name,
		&confirmationToken, &confirmedAt, &confirmationSentAt, &unconfirmedEmail,
		&provider, &uid, &image,
		&u.SignInCount, &currentSignInAt, &lastSignInAt, &currentIP, &lastIP,
		&u.FailedAttempts, &lockedUntil,
		&resetToken, &resetAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.ConfirmationToken = confirmationToken.String
	u.ConfirmedAt = timePtr(confirmedAt)
	u.ConfirmationSentAt = timePtr(confirmationSentAt)
	u.UnconfirmedEmail = unconfirmedEmail.String
	u.Provider = provider.String
	u.UID = uid.String
	u.ImageURL = image.String
	u.CurrentSignInAt = timePtr(currentSignInAt)
	u.LastSignInAt = timePtr(lastSignInAt)
	u.CurrentSignInIP = currentIP.String
	u.LastSignInIP = lastIP.String
	u.LockedUntil = timePtr(lockedUntil)
	u.ResetPasswordToken = resetToken.String
	u.ResetPasswordSentAt = timePtr(resetAt)
	return &u, nil
}

// userArgs はuserColumnsの順序でINSERT/UPDATE用の引数を組み立てる。
func userArgs(u *model.User) []any {
	return []any{
		u.ID, u.Email, u.EncryptedPassword, u.Name,
		nullString(u.ConfirmationToken), nullTime(u.ConfirmedAt), nullTime(u.ConfirmationSentAt), nullString(u.UnconfirmedEmail),
		nullString(u.Provider), nullString(u.UID), nullString(u.ImageURL),
		u.SignInCount, nullTime(u.CurrentSignInAt), nullTime(u.LastSignInAt), nullString(u.CurrentSignInIP), nullString(u.LastSignInIP),
		u.FailedAttempts, nullTime(u.LockedUntil),
		nullString(u.ResetPasswordToken), nullTime(u.ResetPasswordSentAt),
		u.CreatedAt, u.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
