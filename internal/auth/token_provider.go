// Package auth はリモートAPI呼び出し用のクレデンシャル管理を提供する。
package auth

import "context"

// TokenProvider はベアラートークンの取得と無効化のインターフェース。
//
// interactive=false の取得はネットワークアクセスやユーザー操作を伴わず、
// 有効なキャッシュ済みトークンがなければ単に失敗する。
// interactive=true の取得はリフレッシュグラント等による再取得を許可する。
type TokenProvider interface {
	// Acquire はベアラートークンを返す。
	Acquire(ctx context.Context, interactive bool) (string, error)

	// Invalidate は指定トークンのキャッシュを破棄し、次回の取得で
	// 再取得を強制する。
	Invalidate(ctx context.Context, token string) error
}
