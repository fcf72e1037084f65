// Package app は設定の読み込みから依存関係の組み立て、各サブコマンドの起動までを担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shunfish/internal/auth"
	"github.com/hitoshi/shunfish/internal/config"
	"github.com/hitoshi/shunfish/internal/database"
	"github.com/hitoshi/shunfish/internal/handler"
	"github.com/hitoshi/shunfish/internal/logger"
	"github.com/hitoshi/shunfish/internal/mail"
	"github.com/hitoshi/shunfish/internal/metrics"
	"github.com/hitoshi/shunfish/internal/middleware"
	"github.com/hitoshi/shunfish/internal/repository"
	"github.com/hitoshi/shunfish/internal/security"
	"github.com/hitoshi/shunfish/internal/token"
	"github.com/hitoshi/shunfish/internal/user"
	"github.com/hitoshi/shunfish/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数（と.env）を読み込み、LOG_LEVELを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSweep:
		return runSweep(cfg)
	default:
		return runServe(cfg)
	}
}

// services は組み立て済みの認証サービス群。
type services struct {
	sessions *auth.SessionManager
	accounts *auth.AccountManager
	resolver *auth.Resolver
	users    *user.Service
}

// buildServices はリポジトリから認証サービスまでを組み立てる。DBへの接続は行わない。
func buildServices(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector, log *slog.Logger) (*services, error) {
	users := repository.NewPostgresUserRepo(db)
	revoked := repository.NewPostgresRevokedTokenRepo(db)

	codec, err := token.NewCodec(token.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.JWTTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	sanitizer := security.NewNameSanitizer()
	guard := security.NewSSRFGuard()

	verifier := auth.NewCredentialVerifier(users, hasher, auth.CredentialConfig{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockDuration:      cfg.LockDuration,
	})
	sessions := auth.NewSessionManager(verifier, codec, users, revoked, collector, auth.SessionConfig{
		RequireConfirmation: cfg.RequireConfirmation,
	})
	accounts := auth.NewAccountManager(users, hasher, buildMailer(cfg, log), sessions, sanitizer, collector, auth.AccountConfig{
		BaseURL:             cfg.BaseURL,
		ConfirmWithin:       cfg.ConfirmWithin,
		ResetPasswordWithin: cfg.ResetPasswordWithin,
		SignInAfterReset:    cfg.SignInAfterReset,
	})
	resolver := auth.NewResolver(buildProviders(cfg, guard), users, hasher, sessions, sanitizer, guard, collector, auth.ResolverConfig{})

	return &services{
		sessions: sessions,
		accounts: accounts,
		resolver: resolver,
		users:    user.NewService(users, hasher, sessions),
	}, nil
}

// buildProviders は設定済みのIdPだけを登録する。
// プロバイダ呼び出しはSSRF防止付きクライアントで行い、PROVIDER_TIMEOUTで打ち切る。
func buildProviders(cfg *config.Config, guard security.SSRFGuardService) []auth.IdentityProvider {
	var providers []auth.IdentityProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   guard.NewSafeClient(cfg.ProviderTimeout),
		}))
	}
	if cfg.LineEnabled() {
		providers = append(providers, auth.NewLineOAuthProvider(auth.LineOAuthConfig{
			ChannelID:     cfg.LineChannelID,
			ChannelSecret: cfg.LineChannelSecret,
			RedirectURL:   cfg.LineRedirectURL,
			HTTPClient:    guard.NewSafeClient(cfg.ProviderTimeout),
		}))
	}
	return providers
}

// buildMailer はSMTP_HOSTが設定されていればSMTPで送信し、未設定ならログに出力するMailerを返す。
func buildMailer(cfg *config.Config, log *slog.Logger) mail.Mailer {
	if !cfg.SMTPEnabled() {
		log.Warn("SMTP_HOST is not set; mails are written to the log only")
		return mail.NewLogMailer(log)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		Timeout:  cfg.MailTimeout,
	})
}

// newMetrics はプロセス単位のレジストリを作り、認証メトリクスとランタイムメトリクスを登録する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// rateLimiterConfig は1分あたりのリクエスト数の設定をRateLimiterConfigに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitAuth > 0 {
		rlCfg.AuthRate = middleware.PerMinute(cfg.RateLimitAuth)
		rlCfg.AuthBurst = cfg.RateLimitAuth
	}
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	return rlCfg
}

// buildHandler はAPIサーバーのhttp.Handlerを組み立てる。呼び出し元はRateLimiterをStopすること。
func buildHandler(cfg *config.Config, db *sql.DB, log *slog.Logger) (http.Handler, *middleware.RateLimiter, error) {
	reg, collector := newMetrics()

	svc, err := buildServices(cfg, db, collector, log)
	if err != nil {
		return nil, nil, err
	}

	rl := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		Authenticator:     svc.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		TrustProxyHeaders: cfg.TrustProxy,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		SessionService:    svc.sessions,
		AccountService:    svc.accounts,
		OAuthService:      svc.resolver,
		UserService:       svc.users,
	})
	return router, rl, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, rl, err := buildHandler(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer rl.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

func newCleanupJob(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(
		repository.NewPostgresRevokedTokenRepo(db),
		repository.NewPostgresUserRepo(db),
		slog.Default(),
		collector,
	)
	job.ResetPasswordWithin = cfg.ResetPasswordWithin
	return job
}

// runWorker はワーカーモードで起動する。
// SWEEP_INTERVALごとにクリーンアップジョブを実行し、シグナルを受信すると停止する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	newCleanupJob(cfg, db, metrics.Nop{}).Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweep はクリーンアップを1回実行して終了する。
func runSweep(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := newCleanupJob(cfg, db, metrics.Nop{}).Run(ctx); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
