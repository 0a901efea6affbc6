package subscription

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
)

// projectionMonths は月次支出予測の対象月数。
const projectionMonths = 12

// MonthSpend は1ヶ月分の通貨別支出集計。
type MonthSpend struct {
	Month  string             `json:"month"` // YYYY-MM
	Totals map[string]float64 `json:"totals"`
}

// MonthlyProjection は今後12ヶ月の支出予測。
// 発生日ベースの月別合計と、周期を月額換算した恒常支出の両方を含む。
type MonthlyProjection struct {
	Months            []MonthSpend       `json:"months"`
	MonthlyEquivalent map[string]float64 `json:"monthlyEquivalent"`
}

// AgendaItem は期限が近い更新予定。
type AgendaItem struct {
	Subscription *model.Subscription `json:"subscription"`
	DueDate      string              `json:"dueDate"` // YYYY-MM-DD
}

// ProjectMonthly は今月から12ヶ月分の支出予測を返す。
// 各月の合計は発生日（OccurrencesInRangeで列挙）に基づき、
// 月末あふれの繰り越し規則も発生日計算と一貫する。
func (s *Service) ProjectMonthly(ctx context.Context) (*MonthlyProjection, error) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	projection := &MonthlyProjection{
		Months:            make([]MonthSpend, 0, projectionMonths),
		MonthlyEquivalent: map[string]float64{},
	}

	for i := 0; i < projectionMonths; i++ {
		from := first.AddDate(0, i, 0)
		to := from.AddDate(0, 1, -1) // 当月末日
		spend := MonthSpend{
			Month:  from.Format("2006-01"),
			Totals: map[string]float64{},
		}

		for _, sub := range subs {
			occurrences := recur.OccurrencesInRange(sub.StartDate, sub.Period, from, to)
			if len(occurrences) > 0 {
				spend.Totals[sub.Currency] += sub.Price * float64(len(occurrences))
			}
		}
		projection.Months = append(projection.Months, spend)
	}

	for _, sub := range subs {
		projection.MonthlyEquivalent[sub.Currency] += recur.MonthlyEquivalent(sub.Price, sub.Period)
	}

	return projection, nil
}

// Agenda は今日からdays日以内に更新日を迎えるサブスクリプションを
// 更新日の昇順で返す。days=0は今日が更新日のものだけを返す。
func (s *Service) Agenda(ctx context.Context, days int) ([]AgendaItem, error) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	limit := today.AddDate(0, 0, days)

	var items []AgendaItem
	for _, sub := range subs {
		next := recur.NextOccurrence(sub.StartDate, sub.Period, today)
		if next.After(limit) {
			continue
		}
		items = append(items, AgendaItem{
			Subscription: sub,
			DueDate:      recur.FormatYMD(next),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].DueDate != items[j].DueDate {
			return items[i].DueDate < items[j].DueDate
		}
		return items[i].Subscription.Name < items[j].Subscription.Name
	})
	return items, nil
}
