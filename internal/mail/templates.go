package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"sync"
)

//go:embed templates/*.html
var templatesFS embed.FS

var (
	templatesOnce sync.Once
	templates     map[string]*template.Template
	templatesErr  error
)

func loadTemplates() (map[string]*template.Template, error) {
	templatesOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for _, name := range []string{
			TemplateConfirmationInstructions,
			TemplateResetPasswordInstructions,
			TemplatePasswordChange,
		} {
			t, err := template.ParseFS(templatesFS, "templates/"+name+".html")
			if err != nil {
				templatesErr = fmt.Errorf("failed to parse mail template %s: %w", name, err)
				return
			}
			templates[name] = t
		}
	})
	return templates, templatesErr
}

// Render はテンプレートから件名とHTML本文を生成する。
// 各テンプレートは "subject" と "body" の2つのブロックを定義する。
func Render(name string, vars map[string]any) (subject, body string, err error) {
	set, err := loadTemplates()
	if err != nil {
		return "", "", err
	}
	t, ok := set[name]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template: %s", name)
	}

	var sb, bb bytes.Buffer
	if err := t.ExecuteTemplate(&sb, "subject", vars); err != nil {
		return "", "", fmt.Errorf("failed to render subject of %s: %w", name, err)
	}
	if err := t.ExecuteTemplate(&bb, "body", vars); err != nil {
		return "", "", fmt.Errorf("failed to render body of %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}
