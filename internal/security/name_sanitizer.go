// Package security はアプリケーションのセキュリティ機能を提供する。
//
// IdPから受け取った表示名やURLはそのまま信用せず、保存前にここで無害化・検証する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数。usersテーブルの列幅に合わせる。
const MaxNameLength = 254

// NameSanitizer は表示名からマークアップを除去する。
// bluemondayのStrictPolicyは全タグを除去するため、結果はプレーンテキストになる。
// ポリシーはスレッドセーフなので1つを共有してよい。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、空白を畳み、MaxNameLength文字に切り詰めた表示名を返す。
// 同じ入力には常に同じ結果を返す。
func (s *NameSanitizer) Sanitize(raw string) string {
	// StrictPolicyは&などをエスケープするので、テキストとして戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxNameLength {
		runes := []rune(text)
		text = string(runes[:MaxNameLength])
	}
	return text
}
