package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
)

// maxReminderMinutes はリマインダーの最大リード時間（4週間）。
// リモートカレンダーのUIが扱える上限に合わせる。
const maxReminderMinutes = 40320

// minutesPerDay は1日あたりの分数。リード日数→分の換算に使う。
const minutesPerDay = 1440

// BuildRRule は課金周期から繰り返しルール文字列を導出する。
// monthly→毎月、quarterly→3ヶ月ごと、semiannual→6ヶ月ごと、annual→毎年の1:1対応。
func BuildRRule(period model.Period) (string, error) {
	var opt rrule.ROption
	switch period {
	case model.PeriodMonthly:
		opt = rrule.ROption{Freq: rrule.MONTHLY}
	case model.PeriodQuarterly:
		opt = rrule.ROption{Freq: rrule.MONTHLY, Interval: 3}
	case model.PeriodSemiannual:
		opt = rrule.ROption{Freq: rrule.MONTHLY, Interval: 6}
	case model.PeriodAnnual:
		opt = rrule.ROption{Freq: rrule.YEARLY}
	default:
		return "", fmt.Errorf("未知の課金周期です: %s", period)
	}

	// ルールとして成立することを検証してから文字列化する
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("繰り返しルールの構築に失敗しました: %w", err)
	}

	return "RRULE:" + opt.RRuleString(), nil
}

// ClampReminderMinutes はリマインダーのリード分数を0〜4週間に丸める。
func ClampReminderMinutes(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > maxReminderMinutes {
		return maxReminderMinutes
	}
	return minutes
}

// BuildEventBody はサブスクリプションと設定からイベントボディを決定的に構築する。
// タイトルは「{サービス名} · Renewal」、終日区間は[次回発生日, 翌日)、
// リマインダーはサブスクリプション自身の上書き（有効時）またはグローバルデフォルトを
// リード分数（日数×1440）に変換して設定する。リード分数0は「リマインダーなし」の
// 明示的上書きとなる。
func BuildEventBody(sub *model.Subscription, settings *model.Settings, next time.Time) (*EventBody, error) {
	rule, err := BuildRRule(sub.Period)
	if err != nil {
		return nil, err
	}

	end := next.AddDate(0, 0, 1)

	minutes := ClampReminderMinutes(sub.EffectiveReminderDays(settings) * minutesPerDay)
	reminders := &Reminders{UseDefault: false, Overrides: []ReminderOverride{}}
	if minutes > 0 {
		reminders.Overrides = []ReminderOverride{{
			Method:  string(sub.EffectiveReminderMethod(settings)),
			Minutes: minutes,
		}}
	}

	return &EventBody{
		Summary:     fmt.Sprintf("%s · Renewal", sub.Name),
		Description: buildDescription(sub),
		Start:       EventDate{Date: recur.FormatYMD(next)},
		End:         EventDate{Date: recur.FormatYMD(end)},
		Recurrence:  []string{rule},
		Reminders:   reminders,
	}, nil
}

// buildDescription は金額・周期・カテゴリの行からなる説明文を組み立てる。
func buildDescription(sub *model.Subscription) string {
	lines := []string{
		fmt.Sprintf("Amount: %.2f %s", sub.Price, sub.Currency),
		fmt.Sprintf("Period: %s", sub.Period),
	}
	if sub.Category != "" {
		lines = append(lines, fmt.Sprintf("Category: %s", sub.Category))
	}
	return strings.Join(lines, "\n")
}
