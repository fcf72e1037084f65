// Package mail は認証フローで使用するメール送信機能を提供する。
package mail

import (
	"context"
	"log/slog"
)

// テンプレート名
const (
	TemplateConfirmationInstructions  = "confirmation_instructions"
	TemplateResetPasswordInstructions = "reset_password_instructions"
	TemplatePasswordChange            = "password_change"
)

// Message は送信するメールの内容。
// Varsはテンプレートに渡す値（Name, Email, URL, ExpiresIn 等）。
type Message struct {
	To       string
	Template string
	Vars     map[string]any
}

// Mailer はメール送信のインターフェース。
// 実装は送信全体に上限時間を設け、超過した場合はエラーを返すこと。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer は送信せずにログへ出力するMailer。開発環境向け。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send はテンプレートを描画できることを確認したうえで、宛先と件名とURLをログに出力する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	subject, _, err := Render(msg.Template, msg.Vars)
	if err != nil {
		return err
	}

	url, _ := msg.Vars["URL"].(string)
	m.logger.InfoContext(ctx, "mail delivery skipped (log mailer)",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.String("subject", subject),
		slog.String("url", url),
	)
	return nil
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)
