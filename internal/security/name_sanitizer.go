package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名からマークアップを除去する機能のインターフェースを定義する。
// ユーザー登録時とOAuthプロフィール同期時に使用される。
type NameSanitizerService interface {
	// Sanitize はタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	Sanitize(name string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はタグを一切許可しないポリシーでNameSanitizerServiceを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープするため、保存用に元の文字へ戻す。
func (s *nameSanitizer) Sanitize(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(name)))
}
