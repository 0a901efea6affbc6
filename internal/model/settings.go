package model

// 通知リード日数の許容範囲。範囲外の値はClampNotifyDaysで丸める。
const (
	MinNotifyDaysBefore = 0
	MaxNotifyDaysBefore = 30
)

// Settings はコアに関係するアプリケーション設定を表す。
// UIレイヤーが単一の書き込み側であり、Reconcilerは
// CalendarSubscriptionsCalendarIDのみを更新する（専用カレンダーの遅延作成時）。
type Settings struct {
	// CalendarAutoSyncAll が有効な場合、サブスクリプションの作成・編集・削除の
	// たびにリコンサイルを起動する。
	CalendarAutoSyncAll bool

	// CalendarUseDedicatedCalendar が有効な場合、イベントはユーザーの
	// プライマリカレンダーではなくアプリ管理の専用カレンダーに登録される。
	CalendarUseDedicatedCalendar bool

	// CalendarSubscriptionsCalendarID は専用カレンダーのキャッシュ済みID。
	// 遅延作成され、リモートで削除された場合は再作成時に更新される。
	CalendarSubscriptionsCalendarID string

	// グローバルのリマインダーデフォルト。
	CalendarReminderDaysBefore int
	CalendarReminderMethod     ReminderMethod

	// NotifyDaysBefore はローカル通知のリード日数（0〜30にクランプ）。
	NotifyDaysBefore int
}

// ClampNotifyDays は通知リード日数を許容範囲に丸める。
func ClampNotifyDays(days int) int {
	if days < MinNotifyDaysBefore {
		return MinNotifyDaysBefore
	}
	if days > MaxNotifyDaysBefore {
		return MaxNotifyDaysBefore
	}
	return days
}

// DefaultSettings はデフォルト設定を返す。
func DefaultSettings() *Settings {
	return &Settings{
		CalendarAutoSyncAll:        true,
		CalendarReminderDaysBefore: 1,
		CalendarReminderMethod:     ReminderMethodPopup,
		NotifyDaysBefore:           3,
	}
}
