// Package recur は課金周期の純粋な日付計算を提供する。
// 次回更新日の算出と任意期間内の発生日の列挙を行う。
// I/Oを持たず、発生日のリストは保存しない（常に入力からの純粋関数）。
package recur

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// StepMonths は課金周期に対応する月数ステップを返す。
// 周期は閉じた列挙型のためエラーケースはない。未知の値は安全側で12を返す。
func StepMonths(period model.Period) int {
	switch period {
	case model.PeriodMonthly:
		return 1
	case model.PeriodQuarterly:
		return 3
	case model.PeriodSemiannual:
		return 6
	case model.PeriodAnnual:
		return 12
	default:
		return 12
	}
}

// ParseYMD はYYYY-MM-DD形式の文字列をローカル日付（時刻成分なし）として解析する。
// タイムゾーン変換は行わない。月末あふれ（例: 2024-02-31）はtime.Dateの
// 正規化により翌月へ繰り越される。
func ParseYMD(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("日付はYYYY-MM-DD形式で指定してください: %q", s)
	}

	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("年の解析に失敗しました: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("月の解析に失敗しました: %q", s)
	}
	d, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("日の解析に失敗しました: %q", s)
	}

	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.Local), nil
}

// FormatYMD は日付をYYYY-MM-DD形式にフォーマットする。
func FormatYMD(t time.Time) string {
	return t.Format("2006-01-02")
}

// NextOccurrence は開始日からstepMonthsずつ進めたときに
// from以降で最初に到達する発生日を返す。
//
// 月加算はtime.AddDateの正規化規則に従う: 1月31日+1ヶ月は2月末に丸めず
// 翌月へ繰り越す（閏年なら3月2日、平年なら3月3日）。繰り越しは累積的で、
// 以降の発生日は繰り越し後の日付を起点に進む。この規則は
// OccurrencesInRangeおよび月次集計と共通であり、全計算で一貫して適用される。
//
// 開始日が解析不能な場合はfromをそのまま返す（劣化フォールバック。
// 呼び出し側は戻り値==fromを不正入力のシグナルとして許容すること。
// APIバリデーションにより不正な開始日は保存前に弾かれるため、
// このフォールバックは既存データの破損時のみ作動する）。
func NextOccurrence(startDate string, period model.Period, from time.Time) time.Time {
	base, err := ParseYMD(startDate)
	if err != nil {
		return from
	}

	step := StepMonths(period)
	cursor := base
	for cursor.Before(from) {
		cursor = cursor.AddDate(0, step, 0)
	}
	return cursor
}

// OccurrencesInRange はfrom以上to以下（両端含む）の発生日を昇順で返す。
// 該当する発生日がない場合は空スライスを返す。
// 同一引数での再呼び出しは常に同一の結果を返す。
func OccurrencesInRange(startDate string, period model.Period, from, to time.Time) []time.Time {
	base, err := ParseYMD(startDate)
	if err != nil {
		return nil
	}

	step := StepMonths(period)
	cursor := base
	for cursor.Before(from) {
		cursor = cursor.AddDate(0, step, 0)
	}

	var out []time.Time
	for !cursor.After(to) {
		out = append(out, cursor)
		cursor = cursor.AddDate(0, step, 0)
	}
	return out
}

// MonthlyEquivalent は周期ごとの価格を月額換算する。
// 月次支出集計で使用する。
func MonthlyEquivalent(price float64, period model.Period) float64 {
	return price / float64(StepMonths(period))
}
