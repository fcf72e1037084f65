// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minJWTSecretLength はHS256の鍵として受け付ける最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	JWTTTL    time.Duration

	// Credential
	BcryptCost        int
	MaxFailedAttempts int
	LockDuration      time.Duration

	// Account
	ConfirmWithin       time.Duration
	ResetPasswordWithin time.Duration
	SignInAfterReset    bool
	RequireConfirmation bool

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	LineChannelID      string
	LineChannelSecret  string
	LineRedirectURL    string
	ProviderTimeout    time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	MailTimeout  time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth    int
	RateLimitGeneral int

	// Cleanup
	SweepInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string
	TrustProxy bool

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// GoogleEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// LineEnabled はLINEログインの設定が揃っているかを返す。
func (c *Config) LineEnabled() bool {
	return c.LineChannelID != "" && c.LineChannelSecret != ""
}

// SMTPEnabled はSMTP送信を行うかを返す。未設定の場合はログ出力のみのMailerを使う。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.MaxFailedAttempts = getEnvInt("MAX_FAILED_ATTEMPTS", 5)
	cfg.LockDuration = getEnvDuration("LOCK_DURATION", 30*time.Minute)
	cfg.ConfirmWithin = getEnvDuration("CONFIRM_WITHIN", 24*time.Hour)
	cfg.ResetPasswordWithin = getEnvDuration("RESET_PASSWORD_WITHIN", 6*time.Hour)
	cfg.SignInAfterReset = getEnvBool("SIGN_IN_AFTER_RESET", true)
	cfg.RequireConfirmation = getEnvBool("REQUIRE_CONFIRMATION", false)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.LineChannelID = os.Getenv("LINE_CHANNEL_ID")
	cfg.LineChannelSecret = os.Getenv("LINE_CHANNEL_SECRET")
	cfg.LineRedirectURL = os.Getenv("LINE_REDIRECT_URL")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@shunfish.example")
	cfg.MailTimeout = getEnvDuration("MAIL_TIMEOUT", 10*time.Second)

	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Hour)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", strings.TrimRight(cfg.BaseURL, "/"))
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// loadDotEnv はpathの.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
