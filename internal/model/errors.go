// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind はAPIエラーの分類。HTTPステータスとの対応を持つ。
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindProvider     ErrorKind = "provider"
	KindInternal     ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// Errは原因となったエラーで、ログにのみ出力しクライアントには返さない。
type APIError struct {
	Kind    ErrorKind
	Code    string   // エラーコード
	Message string   // ユーザー向けメッセージ
	Errors  []string // バリデーションエラーの一覧
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Status はエラー分類に対応するHTTPステータスコードを返す。
func (e *APIError) Status() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsAPIError はerrがAPIErrorを含む場合にそれを返す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked       = "TOKEN_REVOKED"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeProvider           = "PROVIDER_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	if message == "" {
		message = "認証に失敗しました。"
	}
	return &APIError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの有無とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeInvalidCredentials,
		Message: "メールアドレスまたはパスワードが正しくありません。",
	}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeTokenExpired,
		Message: "トークンの有効期限が切れています。再度ログインしてください。",
	}
}

// NewTokenRevokedError はログアウト済みトークンのエラーを生成する。
func NewTokenRevokedError() *APIError {
	return &APIError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeTokenRevoked,
		Message: "トークンは無効化されています。再度ログインしてください。",
	}
}

// NewValidationError はバリデーションエラーを生成する。
func NewValidationError(messages ...string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeValidation,
		Message: "入力内容に誤りがあります。",
		Errors:  messages,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// メールアドレスによる検索結果には使用しない。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Kind:    KindNotFound,
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%sが見つかりません。", resource),
	}
}

// NewProviderError は外部IdPとの通信失敗エラーを生成する。
func NewProviderError(provider string, err error) *APIError {
	return &APIError{
		Kind:    KindProvider,
		Code:    ErrCodeProvider,
		Message: "外部サービスでの認証に失敗しました。しばらく待ってから再度お試しください。",
		Err:     fmt.Errorf("%s: %w", provider, err),
	}
}

// NewInternalError は内部エラーを生成する。詳細はErrに保持しログのみに出力する。
func NewInternalError(err error) *APIError {
	return &APIError{
		Kind:    KindInternal,
		Code:    ErrCodeInternal,
		Message: "内部エラーが発生しました。",
		Err:     err,
	}
}
