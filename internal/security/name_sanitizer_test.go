package security

import "testing"

func TestNameSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "釣り好き太郎", "釣り好き太郎"},
		{"scriptタグは中身ごと除去", `太郎<script>alert(1)</script>`, "太郎"},
		{"装飾タグは除去しテキストを残す", "<b>太郎</b>", "太郎"},
		{"アンパサンドは保持", "Tom & Jerry", "Tom & Jerry"},
		{"前後の空白を除去", "  花子  ", "花子"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameSanitizerInterface(t *testing.T) {
	var _ NameSanitizerService = NewNameSanitizer()
}
