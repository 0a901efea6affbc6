// Package model はドメインモデルを定義する。
package model

import "time"

// Period はサブスクリプションの課金周期を表す。
// monthly/quarterly/semiannual/annualの4種類の閉じた列挙型。
type Period string

const (
	// PeriodMonthly は毎月課金。
	PeriodMonthly Period = "monthly"
	// PeriodQuarterly は3ヶ月ごとの課金。
	PeriodQuarterly Period = "quarterly"
	// PeriodSemiannual は6ヶ月ごとの課金。
	PeriodSemiannual Period = "semiannual"
	// PeriodAnnual は毎年課金。
	PeriodAnnual Period = "annual"
)

// IsValid は周期が定義済みの4種類のいずれかであるかを検証する。
func (p Period) IsValid() bool {
	switch p {
	case PeriodMonthly, PeriodQuarterly, PeriodSemiannual, PeriodAnnual:
		return true
	}
	return false
}

// ReminderMethod はリマインダーの通知方法を表す。
type ReminderMethod string

const (
	// ReminderMethodPopup はポップアップ通知。
	ReminderMethodPopup ReminderMethod = "popup"
	// ReminderMethodEmail はメール通知。
	ReminderMethodEmail ReminderMethod = "email"
)

// Reminder はサブスクリプションごとのリマインダー上書き設定を表す。
// 無効またはnilの場合はグローバル設定が適用される。
type Reminder struct {
	Enabled    bool
	DaysBefore int
	Method     ReminderMethod
}

// CalendarLink はリモートカレンダーイベントへのリンクを表す。
// Reconcilerのみが書き換える。SyncedAtは最後に同期が成功した日時を保持し、
// その後の同期が失敗してもクリアされない（LastErrorと併存しうる）。
type CalendarLink struct {
	CalendarID string
	EventID    string
	SyncedAt   time.Time
	LastError  string
}

// Subscription は定期課金サブスクリプションを表す中心エンティティ。
// StartDateは時刻成分を持たないローカル日付（YYYY-MM-DD）で、
// 周期と合わせて次回更新日を純粋関数として導出する。発生日のリストは保存しない。
type Subscription struct {
	ID        string
	Name      string
	Category  string
	Price     float64
	Currency  string
	Period    Period
	StartDate string // YYYY-MM-DD
	SiteURL   string

	FaviconData []byte
	FaviconMime string

	Reminder *Reminder
	Calendar *CalendarLink

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveReminderDays は適用されるリマインダーの日数を返す。
// サブスクリプション自身の上書きが有効な場合はそれを、なければグローバル設定を使う。
func (s *Subscription) EffectiveReminderDays(settings *Settings) int {
	if s.Reminder != nil && s.Reminder.Enabled {
		return s.Reminder.DaysBefore
	}
	return settings.CalendarReminderDaysBefore
}

// EffectiveReminderMethod は適用されるリマインダーの通知方法を返す。
func (s *Subscription) EffectiveReminderMethod(settings *Settings) ReminderMethod {
	if s.Reminder != nil && s.Reminder.Enabled && s.Reminder.Method == ReminderMethodEmail {
		return ReminderMethodEmail
	}
	if s.Reminder != nil && s.Reminder.Enabled {
		return ReminderMethodPopup
	}
	if settings.CalendarReminderMethod == ReminderMethodEmail {
		return ReminderMethodEmail
	}
	return ReminderMethodPopup
}
