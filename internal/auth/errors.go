// Package auth は認証、セッション管理、アカウントのライフサイクルを提供する。
package auth

import "errors"

var (
	// ErrNotFound はメールアドレスに該当するユーザーが存在しないことを示す。
	ErrNotFound = errors.New("user not found")
	// ErrBadCredentials はパスワードが一致しないことを示す。
	ErrBadCredentials = errors.New("bad credentials")
	// ErrLocked はログイン失敗の繰り返しによりアカウントがロック中であることを示す。
	ErrLocked = errors.New("account locked")
	// ErrCredentialRejected は外部IdPが資格情報を受け付けなかったことを示す。
	// 通信障害（プロバイダエラー）とは区別し、401として扱う。
	ErrCredentialRejected = errors.New("credential rejected by provider")
)
