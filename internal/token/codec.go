// Package token はセッショントークン（JWT）の発行と検証を提供する。
// 失効（revocation）の確認は行わない。呼び出し側が失効ストアで確認する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/shunfish/internal/model"
)

// DefaultTTL はセッショントークンのデフォルト有効期間。
const DefaultTTL = 24 * time.Hour

var (
	// ErrExpired はトークンの有効期限切れを示す。
	ErrExpired = errors.New("token expired")
	// ErrInvalidToken は署名不一致・形式不正などを示す。
	ErrInvalidToken = errors.New("invalid token")
)

// Config はCodecの設定。
type Config struct {
	Secret []byte
	TTL    time.Duration
	// Now はテスト用に差し替え可能な現在時刻関数。
	Now func() time.Time
}

// Codec はHS256で署名されたセッショントークンを発行・検証する。
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec はCodecを生成する。
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{secret: cfg.Secret, ttl: cfg.TTL, now: cfg.Now}, nil
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue は指定ユーザーのトークンを発行する。jtiは発行ごとに新しく生成される。
func (c *Codec) Issue(userID string) (string, *model.SessionClaims, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("user ID is required")
	}

	// JWTの時刻は秒精度なので切り捨てておく
	now := c.now().Truncate(time.Second)
	claims := &model.SessionClaims{
		UserID:    userID,
		JTI:       uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   claims.UserID,
		ID:        claims.JTI,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify はトークンの署名と有効期限を検証する。
// 期限切れの場合はErrExpired、それ以外の失敗はErrInvalidTokenを返す。
func (c *Codec) Verify(tokenString string) (*model.SessionClaims, error) {
	claims, err := c.parse(tokenString, false)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyIgnoringExpiry は署名のみ検証し、期限切れでもクレームを返す。
// 期限切れの場合はクレームとErrExpiredの両方を返す。ログアウト処理で使用する。
func (c *Codec) VerifyIgnoringExpiry(tokenString string) (*model.SessionClaims, error) {
	claims, err := c.parse(tokenString, true)
	if err != nil {
		return nil, err
	}
	if !c.now().Before(claims.ExpiresAt) {
		return claims, ErrExpired
	}
	return claims, nil
}

func (c *Codec) parse(tokenString string, skipExpiry bool) (*model.SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if skipExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	rc := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, rc, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || rc.Subject == "" || rc.ID == "" || rc.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	claims := &model.SessionClaims{
		UserID:    rc.Subject,
		JTI:       rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	return claims, nil
}
