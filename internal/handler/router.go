package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/shunfish/internal/metrics"
	"github.com/hitoshi/shunfish/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// TrustProxyHeaders がtrueの場合、X-Forwarded-For等からクライアントIPを決定する。
	TrustProxyHeaders bool

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	SessionService SessionServiceInterface
	AccountService AccountServiceInterface
	OAuthService   OAuthServiceInterface
	UserService    UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → Logging → SecurityHeaders → CORS → ルートごとのRateLimit/TokenAuth
//
// ログイン・登録・パスワード再設定などはIPごとのレート制限、
// 認証済みルートはユーザーごとのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.SessionService)
	accountHandler := NewAccountHandler(deps.AccountService)
	oauthHandler := NewOAuthHandler(deps.OAuthService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート（IPごとのレート制限） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/users/sign_in", sessionHandler.SignIn)
		r.Post("/users", accountHandler.Register)

		r.Get("/users/confirmation", accountHandler.Confirm)
		r.Post("/users/confirmation", accountHandler.ResendConfirmation)

		r.Post("/users/password", accountHandler.RequestPasswordReset)
		r.Put("/users/password", accountHandler.ResetPassword)
		r.Patch("/users/password", accountHandler.ResetPassword)

		r.Post("/auth/google_oauth2/callback", oauthHandler.GoogleCallback)
		r.Post("/auth/line/callback", oauthHandler.LineCallback)
	})

	// 期限切れトークンでもログアウトできるよう認証ミドルウェアの外に置く
	r.With(deps.RateLimiter.GeneralMiddleware()).Delete("/users/sign_out", sessionHandler.SignOut)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: TokenAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users/me", sessionHandler.Me)
		r.Put("/users", accountHandler.ChangeEmail)
		r.Patch("/users", accountHandler.ChangeEmail)
		r.Delete("/users", userHandler.Withdraw)
	})

	return r
}
