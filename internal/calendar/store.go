// Package calendar はリモートカレンダーのイベントストアを提供する。
// イベントの作成・更新・取得・削除と、名前付きカレンダーコンテナの
// find-or-createを行う。全操作はネットワーク境界を越えるため個別に失敗しうる。
package calendar

import (
	"context"
	"errors"
)

// ErrNotFound はイベントまたはカレンダーがリモートに存在しないことを表す。
// それ自体はユーザー向けエラーではなく、自己修復（再作成）のシグナルとして扱う。
var ErrNotFound = errors.New("リソースが見つかりません")

// ErrUnauthorized は認可エラー（失効・取り消し済みクレデンシャル）を表す。
// 検出時はキャッシュ済みトークンを無効化して再取得を促す。
var ErrUnauthorized = errors.New("認可されていません")

// isNotFound はエラーがErrNotFoundに分類されるかを判定する。
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EventDate は終日イベントの日付（YYYY-MM-DD、時刻成分なし）。
type EventDate struct {
	Date string `json:"date"`
}

// ReminderOverride はイベント単位のリマインダー上書き。
type ReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

// Reminders はイベントのリマインダー設定。
// UseDefault=false かつ Overrides空 は「リマインダーなし」の明示的上書きを表す
// （デフォルト適用とは異なる）。
type Reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []ReminderOverride `json:"overrides"`
}

// EventBody はリモートイベントの作成・更新に使うリクエストボディ。
// サブスクリプションと設定から決定的に構築される。
type EventBody struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       EventDate  `json:"start"`
	End         EventDate  `json:"end"`
	Recurrence  []string   `json:"recurrence,omitempty"`
	Reminders   *Reminders `json:"reminders,omitempty"`
}

// Event はリモートから取得したイベントを表す。
type Event struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   EventDate `json:"start"`
	End     EventDate `json:"end"`
}

// EventStore はリモートイベントストアのインターフェース。
// 全操作はベアラートークンを必要とし、いずれの呼び出しも
// ErrUnauthorized（トークン失効）で失敗しうる。
type EventStore interface {
	// Create は指定カレンダーにイベントを作成し、イベントIDを返す。
	Create(ctx context.Context, token, calendarID string, body *EventBody) (string, error)

	// Update は既存イベントを更新し、イベントIDを返す。
	// イベントIDが未知の場合はErrNotFoundで失敗する。
	Update(ctx context.Context, token, calendarID, eventID string, body *EventBody) (string, error)

	// Get はイベントを取得する。存在しない場合はErrNotFoundで失敗する。
	Get(ctx context.Context, token, calendarID, eventID string) (*Event, error)

	// Delete はイベントを削除する。存在しない場合も成功として扱う（冪等削除）。
	Delete(ctx context.Context, token, calendarID, eventID string) error

	// EnsureNamedContainer は表示名でカレンダーコンテナをfind-or-createし、
	// そのIDを返す。
	EnsureNamedContainer(ctx context.Context, token, name string) (string, error)
}
