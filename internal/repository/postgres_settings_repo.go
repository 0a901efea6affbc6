package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用した設定リポジトリ。
// 設定は固定IDの単一行で保持する。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// settingsRowID は単一行設定テーブルの固定ID。
const settingsRowID = 1

// Load は設定を読み込む。保存済みの行がない場合はデフォルト値を返す。
func (r *PostgresSettingsRepo) Load(ctx context.Context) (*model.Settings, error) {
	settings := &model.Settings{}
	var dedicatedCalendarID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT calendar_auto_sync_all, calendar_use_dedicated,
		        calendar_subscriptions_calendar_id,
		        calendar_reminder_days_before, calendar_reminder_method,
		        notify_days_before
		 FROM settings WHERE id = $1`,
		settingsRowID,
	).Scan(
		&settings.CalendarAutoSyncAll, &settings.CalendarUseDedicatedCalendar,
		&dedicatedCalendarID,
		&settings.CalendarReminderDaysBefore, &settings.CalendarReminderMethod,
		&settings.NotifyDaysBefore,
	)

	if err == sql.ErrNoRows {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}

	settings.CalendarSubscriptionsCalendarID = nullStringValue(dedicatedCalendarID)
	settings.NotifyDaysBefore = model.ClampNotifyDays(settings.NotifyDaysBefore)

	return settings, nil
}

// Save は設定をまるごと上書き保存する。
func (r *PostgresSettingsRepo) Save(ctx context.Context, settings *model.Settings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (id, calendar_auto_sync_all, calendar_use_dedicated,
		                       calendar_subscriptions_calendar_id,
		                       calendar_reminder_days_before, calendar_reminder_method,
		                       notify_days_before, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO UPDATE SET
		    calendar_auto_sync_all = EXCLUDED.calendar_auto_sync_all,
		    calendar_use_dedicated = EXCLUDED.calendar_use_dedicated,
		    calendar_subscriptions_calendar_id = EXCLUDED.calendar_subscriptions_calendar_id,
		    calendar_reminder_days_before = EXCLUDED.calendar_reminder_days_before,
		    calendar_reminder_method = EXCLUDED.calendar_reminder_method,
		    notify_days_before = EXCLUDED.notify_days_before,
		    updated_at = now()`,
		settingsRowID,
		settings.CalendarAutoSyncAll, settings.CalendarUseDedicatedCalendar,
		nullString(settings.CalendarSubscriptionsCalendarID),
		settings.CalendarReminderDaysBefore, string(settings.CalendarReminderMethod),
		model.ClampNotifyDays(settings.NotifyDaysBefore),
	)
	if err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
