package security

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidEmail はメールアドレスの形式が不正であることを示す。
var ErrInvalidEmail = errors.New("invalid email address")

// emailPattern は「@を1つ含み、空白を含まない」形式を表す。
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// NormalizeEmail はメールアドレスを比較・保存用の正規形に変換する。
// 前後の空白を除去して小文字化し、国際化ドメインはPunycodeに変換する。
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	local, domain := email[:at], email[at+1:]

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", ErrInvalidEmail
	}

	return local + "@" + ascii, nil
}
