package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNameSanitizer_Sanitize(t *testing.T) {
	s := NewNameSanitizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Taro Yamada", want: "Taro Yamada"},
		{name: "japanese", in: "山田 太郎", want: "山田 太郎"},
		{name: "strips tags", in: "<b>Taro</b>", want: "Taro"},
		{name: "drops script content", in: "Taro<script>alert(1)</script>", want: "Taro"},
		{name: "drops event handler", in: `<img src=x onerror="alert(1)">Taro`, want: "Taro"},
		{name: "keeps ampersand as text", in: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "collapses whitespace", in: "  Taro \n\t Yamada  ", want: "Taro Yamada"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNameSanitizer_TruncatesByRunes(t *testing.T) {
	s := NewNameSanitizer()
	long := strings.Repeat("あ", MaxNameLength+10)

	got := s.Sanitize(long)
	if n := utf8.RuneCountInString(got); n != MaxNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxNameLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated name should remain valid UTF-8")
	}
}

// 同じ入力に対して何度呼んでも同じ結果になること
func TestNameSanitizer_Idempotent(t *testing.T) {
	s := NewNameSanitizer()
	in := "<i>Ann</i> &amp; Bob"
	first := s.Sanitize(in)
	if second := s.Sanitize(in); first != second {
		t.Errorf("non-deterministic output: %q vs %q", first, second)
	}
}
