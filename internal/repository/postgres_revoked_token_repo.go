package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRevokedTokenRepo はPostgreSQLを使用した失効トークンリポジトリ。
// jtiの一意インデックスにより、複数プロセスからの同時ログアウトでも重複行は作られない。
type PostgresRevokedTokenRepo struct {
	db *sql.DB
}

// NewPostgresRevokedTokenRepo はPostgresRevokedTokenRepoを生成する。
func NewPostgresRevokedTokenRepo(db *sql.DB) *PostgresRevokedTokenRepo {
	return &PostgresRevokedTokenRepo{db: db}
}

// IsRevoked はjtiが失効済みかを返す。
func (r *PostgresRevokedTokenRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`,
		jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

// Revoke はjtiを失効させる。既に失効済みの場合は何もせず成功を返す。
func (r *PostgresRevokedTokenRepo) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := validateRevocation(jti, expiresAt); err != nil {
		return err
	}

	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, exp, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt, now,
	)
	if err != nil {
		// 一意制約違反も失効済みとして成功扱いにする
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// SweepExpired は有効期限を過ぎた行を削除する。
func (r *PostgresRevokedTokenRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE exp <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep revoked tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// validateRevocation は失効登録前の入力を検証する。
func validateRevocation(jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("jti is required")
	}
	if expiresAt.IsZero() {
		return fmt.Errorf("expiry is required")
	}
	return nil
}

// compile-time interface check
var _ RevokedTokenRepository = (*PostgresRevokedTokenRepo)(nil)
