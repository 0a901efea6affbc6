// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はユーザー入力のテキストフィールド
// （サブスクリプション名・カテゴリなど）をサニタイズし、
// 保存データへのHTML混入を防止する。
// bluemondayのStrictPolicyにより全タグが除去される。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストフィールドのサニタイズ機能のインターフェースを定義する。
// サブスクリプションの作成・更新時の入力正規化に使用される。
type TextSanitizerService interface {
	// SanitizeText は入力からHTMLタグを全て除去し、前後の空白を削った
	// プレーンテキストを返す。
	// script等のタグ本体も内容ごと除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（許可タグなし）を使用するため、あらゆるHTMLタグが除去され、
// テキスト内容のみが残る。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は入力からHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
