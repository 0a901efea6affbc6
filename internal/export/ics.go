// Package export は更新予定のiCalendarエクスポートを提供する。
// 指定期間内の発生日を終日VEVENT（1発生日につき1件）として書き出す。
package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
)

// calendarProductID はエクスポートするICSのPRODID。
const calendarProductID = "-//subtrack//agenda//EN"

// BuildAgendaICS はfromからdays日以内の更新予定をiCalendar文書として返す。
// 発生日の列挙はRecurrence Engineと共通の規則に従うため、
// カレンダー同期・通知と同じ日付が出力される。
func BuildAgendaICS(subs []*model.Subscription, from time.Time, days int) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(calendarProductID)

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	to := start.AddDate(0, 0, days)

	for _, sub := range subs {
		for _, occ := range recur.OccurrencesInRange(sub.StartDate, sub.Period, start, to) {
			uid := fmt.Sprintf("%s-%s@subtrack", sub.ID, recur.FormatYMD(occ))
			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(from)
			ev.SetSummary(fmt.Sprintf("%s · Renewal", sub.Name))
			ev.SetDescription(buildDescription(sub))
			ev.SetAllDayStartAt(occ)
			ev.SetAllDayEndAt(occ.AddDate(0, 0, 1))
		}
	}

	return cal.Serialize()
}

// buildDescription は金額と周期、カテゴリ（あれば）からなる説明文を組み立てる。
func buildDescription(sub *model.Subscription) string {
	desc := fmt.Sprintf("Amount: %.2f %s\nPeriod: %s", sub.Price, sub.Currency, sub.Period)
	if sub.Category != "" {
		desc += fmt.Sprintf("\nCategory: %s", sub.Category)
	}
	return desc
}
