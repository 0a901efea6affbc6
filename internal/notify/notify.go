// Package notify は更新日前のローカル通知のスケジュール計算と
// 通知スキャンを提供する。
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
	"github.com/hitoshi/subtrack/internal/repository"
)

// notifyHour は通知の発火時刻（ローカル9時）。
const notifyHour = 9

// missedDelay は発火時刻を過ぎていた場合の代替遅延。
// 過去時刻の通知は捨てずに少し後ろへずらして発火する。
const missedDelay = time.Minute

// scheduleBuffer は発火時刻の判定マージン。クロックのずれや
// スケジュール処理のラグで直近未来の発火を取り逃さないよう、
// この範囲内の時刻は過ぎたものとして扱う。
const scheduleBuffer = 30 * time.Second

// ReminderAt は発生日とリード日数から通知の発火時刻を計算する。
// 発生日のdaysBefore日前のローカル9時を返す。その時刻が既にnow+scheduleBuffer
// 以前の場合はnow+missedDelayを返す（取り逃した通知の代替発火）。
func ReminderAt(occurrence time.Time, daysBefore int, now time.Time) time.Time {
	day := occurrence.AddDate(0, 0, -daysBefore)
	at := time.Date(day.Year(), day.Month(), day.Day(), notifyHour, 0, 0, 0, day.Location())
	if !at.After(now.Add(scheduleBuffer)) {
		return now.Add(missedDelay)
	}
	return at
}

// Notifier は通知の送信先のインターフェース。
type Notifier interface {
	// Notify は1件の更新予定通知を送信する。
	Notify(ctx context.Context, sub *model.Subscription, dueDate string, fireAt time.Time) error
}

// SlogNotifier は構造化ログへ通知を書き出すNotifier実装。
// 外部のプッシュ基盤を持たないデプロイでの既定の送信先。
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier はSlogNotifierを生成する。
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

// Notify は通知内容をログに書き出す。
func (n *SlogNotifier) Notify(ctx context.Context, sub *model.Subscription, dueDate string, fireAt time.Time) error {
	n.logger.Info("更新予定の通知",
		"subscription_id", sub.ID,
		"name", sub.Name,
		"due_date", dueDate,
		"fire_at", fireAt,
		"price", sub.Price,
		"currency", sub.Currency,
	)
	return nil
}

// Scanner は全サブスクリプションを走査し、リード日数以内に更新日を
// 迎えるものの通知を送出する。ワーカーのジョブから定期実行される。
type Scanner struct {
	subs      repository.SubscriptionRepository
	settings  repository.SettingsRepository
	notifier  Notifier
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewScanner はScannerを生成する。
func NewScanner(
	subs repository.SubscriptionRepository,
	settings repository.SettingsRepository,
	notifier Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		subs:      subs,
		settings:  settings,
		notifier:  notifier,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Run は1回のスキャンを実行し、送出した通知数を返す。
// 個別の通知失敗はスキャンを中断しない。
func (s *Scanner) Run(ctx context.Context) (int, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return 0, err
	}
	days := model.ClampNotifyDays(settings.NotifyDaysBefore)

	subs, err := s.subs.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	limit := today.AddDate(0, 0, days)

	sent := 0
	for _, sub := range subs {
		next := recur.NextOccurrence(sub.StartDate, sub.Period, today)
		if next.After(limit) {
			continue
		}

		fireAt := ReminderAt(next, days, now)
		if err := s.notifier.Notify(ctx, sub, recur.FormatYMD(next), fireAt); err != nil {
			s.logger.Warn("通知の送出に失敗しました",
				"subscription_id", sub.ID,
				"error", err,
			)
			continue
		}
		sent++
	}

	if s.collector != nil && sent > 0 {
		s.collector.RecordRemindersSent(sent)
	}
	return sent, nil
}
