package mail

import (
	"strings"
	"testing"
)

func TestRender_AllTemplates(t *testing.T) {
	vars := map[string]any{
		"Name":      "釣り太郎",
		"Email":     "taro@example.com",
		"URL":       "https://shunfish.example.com/users/confirmation?confirmation_token=abc",
		"ExpiresIn": "24時間",
	}

	tests := []struct {
		template    string
		wantSubject string
		wantBody    []string
	}{
		{TemplateConfirmationInstructions, "メールアドレス確認のご案内", []string{"釣り太郎", "confirmation_token=abc", "24時間"}},
		{TemplateResetPasswordInstructions, "パスワード再設定のご案内", []string{"釣り太郎", "https://shunfish.example.com"}},
		{TemplatePasswordChange, "パスワード変更のお知らせ", []string{"taro@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			subject, body, err := Render(tt.template, vars)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(subject, tt.wantSubject) {
				t.Errorf("subject = %q, want to contain %q", subject, tt.wantSubject)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(body, want) {
					t.Errorf("body should contain %q", want)
				}
			}
		})
	}
}

func TestRender_EscapesName(t *testing.T) {
	_, body, err := Render(TemplatePasswordChange, map[string]any{"Name": "<script>alert(1)</script>"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("名前がエスケープされていない")
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	if _, _, err := Render("welcome", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}
