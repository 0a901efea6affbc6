// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/subtrack/internal/model"
)

// SubscriptionRepository はサブスクリプションデータの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// List は全サブスクリプションを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.Subscription, error)

	// Create はサブスクリプションを作成する。
	Create(ctx context.Context, sub *model.Subscription) error

	// Update はサブスクリプションのユーザー編集可能フィールドを更新する。
	// カレンダーリンクフィールドは変更しない（それはReconcilerの領分）。
	Update(ctx context.Context, sub *model.Subscription) error

	// Delete は指定IDのサブスクリプションを削除する。
	Delete(ctx context.Context, id string) error

	// UpdateCalendarLink はカレンダーリンクフィールドのみを更新する。
	// linkがnilの場合はリンクをクリアする。Reconcilerだけが呼び出す。
	UpdateCalendarLink(ctx context.Context, id string, link *model.CalendarLink) error

	// UpdateFavicon はサブスクリプションのfaviconデータを更新する。
	UpdateFavicon(ctx context.Context, id string, faviconData []byte, faviconMime string) error
}

// SettingsRepository は設定データの永続化インターフェース。
// 設定は単一行としてまるごと読み書きする（部分更新のトランザクション性は仮定しない）。
type SettingsRepository interface {
	// Load は設定を読み込む。保存済みの設定がない場合はデフォルト値を返す。
	Load(ctx context.Context) (*model.Settings, error)

	// Save は設定をまるごと上書き保存する。
	Save(ctx context.Context, settings *model.Settings) error
}
