package auth

import (
	"unicode/utf8"

	"github.com/hitoshi/shunfish/internal/security"
)

const (
	minPasswordLength = 6
	// bcryptは72バイトを超える入力を扱えない。
	maxPasswordBytes = 72
	maxNameLength    = 50
)

// バリデーションメッセージ
const (
	msgEmailBlank           = "メールアドレスを入力してください"
	msgEmailInvalid         = "メールアドレスは不正な値です"
	msgEmailTaken           = "メールアドレスはすでに存在します"
	msgPasswordBlank        = "パスワードを入力してください"
	msgPasswordTooShort     = "パスワードは6文字以上で入力してください"
	msgPasswordTooLong      = "パスワードは72バイト以内で入力してください"
	msgPasswordMismatch     = "確認用パスワードとパスワードの入力が一致しません"
	msgNameBlank            = "名前を入力してください"
	msgNameTooLong          = "名前は50文字以内で入力してください"
	msgConfirmationInvalid  = "確認トークンが無効か、有効期限が切れています"
	msgResetTokenInvalid    = "パスワード再設定トークンが不正です"
	msgResetTokenExpired    = "パスワード再設定トークンの有効期限が切れています。もう一度再設定をお試しください"
	msgCurrentPasswordWrong = "現在のパスワードが正しくありません"
)

// validateEmail はメールアドレスを正規化し、問題があればメッセージを返す。
func validateEmail(raw string) (string, []string) {
	if raw == "" {
		return "", []string{msgEmailBlank}
	}
	email, err := security.NormalizeEmail(raw)
	if err != nil {
		return "", []string{msgEmailInvalid}
	}
	return email, nil
}

// validatePassword はパスワードと確認用パスワードを検証する。
func validatePassword(password, confirmation string) []string {
	var msgs []string
	switch {
	case password == "":
		msgs = append(msgs, msgPasswordBlank)
	case utf8.RuneCountInString(password) < minPasswordLength:
		msgs = append(msgs, msgPasswordTooShort)
	case len(password) > maxPasswordBytes:
		msgs = append(msgs, msgPasswordTooLong)
	}
	if password != confirmation {
		msgs = append(msgs, msgPasswordMismatch)
	}
	return msgs
}

// validateName はサニタイズ済みの表示名を検証する。
func validateName(name string) []string {
	switch {
	case name == "":
		return []string{msgNameBlank}
	case utf8.RuneCountInString(name) > maxNameLength:
		return []string{msgNameTooLong}
	}
	return nil
}

// truncateName は表示名を上限文字数に切り詰める。
func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= maxNameLength {
		return name
	}
	return string([]rune(name)[:maxNameLength])
}
