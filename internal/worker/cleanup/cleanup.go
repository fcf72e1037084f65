// Package cleanup は認証データの定期クリーンアップジョブを提供する。
// 有効期限を過ぎた失効トークンの削除と、期限切れのパスワード再設定トークンの消去を行う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shunfish/internal/metrics"
)

// 掃除対象の種別。メトリクスのラベルにも使う。
const (
	KindRevokedTokens = "revoked_tokens"
	KindResetTokens   = "reset_password_tokens"
)

// DefaultResetPasswordWithin はパスワード再設定トークンの既定の有効期間。
const DefaultResetPasswordWithin = 6 * time.Hour

// RevokedTokenSweeper は期限切れの失効トークンを削除する。
type RevokedTokenSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenClearer は期限切れのパスワード再設定トークンを消去する。
type ResetTokenClearer interface {
	ClearExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は認証データのクリーンアップジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	tokens  RevokedTokenSweeper
	users   ResetTokenClearer
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	// ResetPasswordWithin より前に送信された再設定トークンを消去する
	ResetPasswordWithin time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。usersがnilの場合は再設定トークンの消去を行わない。
func NewCleanupJob(tokens RevokedTokenSweeper, users ResetTokenClearer, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		tokens:              tokens,
		users:               users,
		logger:              logger,
		metrics:             collector,
		now:                 time.Now,
		ResetPasswordWithin: DefaultResetPasswordWithin,
	}
}

// Run はクリーンアップを1回実行する。
// 片方が失敗してももう片方は実行し、失敗はまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	var errs []error

	swept, err := j.tokens.SweepExpired(ctx, start)
	if err != nil {
		j.logger.Error("失効トークンの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("失効トークンの削除に失敗: %w", err))
	} else {
		j.metrics.RecordSwept(KindRevokedTokens, swept)
	}

	var cleared int64
	if j.users != nil {
		cleared, err = j.users.ClearExpiredResetTokens(ctx, start.Add(-j.ResetPasswordWithin))
		if err != nil {
			j.logger.Error("パスワード再設定トークンの消去に失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("パスワード再設定トークンの消去に失敗: %w", err))
		} else {
			j.metrics.RecordSwept(KindResetTokens, cleared)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("revoked_tokens_deleted", swept),
		slog.Int64("reset_tokens_cleared", cleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は一定間隔でRunを実行する。起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップスケジューラを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
