package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用したサブスクリプションリポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, name, category, price, currency, period, start_date,
        site_url, favicon_data, favicon_mime,
        reminder_enabled, reminder_days_before, reminder_method,
        calendar_id, event_id, synced_at, last_error,
        created_at, updated_at`

// scanSubscription は1行をSubscriptionに読み取る。
func scanSubscription(scan func(dest ...any) error) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var category, siteURL, faviconMime sql.NullString
	var faviconData []byte
	var reminderEnabled sql.NullBool
	var reminderDays sql.NullInt64
	var reminderMethod sql.NullString
	var calendarID, eventID, lastError sql.NullString
	var syncedAt sql.NullTime

	err := scan(
		&sub.ID, &sub.Name, &category, &sub.Price, &sub.Currency,
		&sub.Period, &sub.StartDate,
		&siteURL, &faviconData, &faviconMime,
		&reminderEnabled, &reminderDays, &reminderMethod,
		&calendarID, &eventID, &syncedAt, &lastError,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Category = nullStringValue(category)
	sub.SiteURL = nullStringValue(siteURL)
	sub.FaviconData = faviconData
	sub.FaviconMime = nullStringValue(faviconMime)

	if reminderEnabled.Valid {
		sub.Reminder = &model.Reminder{
			Enabled:    reminderEnabled.Bool,
			DaysBefore: int(reminderDays.Int64),
			Method:     model.ReminderMethod(nullStringValue(reminderMethod)),
		}
	}

	if calendarID.Valid || lastError.Valid {
		link := &model.CalendarLink{
			CalendarID: nullStringValue(calendarID),
			EventID:    nullStringValue(eventID),
			LastError:  nullStringValue(lastError),
		}
		if syncedAt.Valid {
			link.SyncedAt = syncedAt.Time
		}
		sub.Calendar = link
	}

	return sub, nil
}

// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	)

	sub, err := scanSubscription(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// List は全サブスクリプションを作成日時の昇順で返す。
func (r *PostgresSubscriptionRepo) List(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("サブスクリプションの読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サブスクリプションの走査に失敗しました: %w", err)
	}

	return subs, nil
}

// Create はサブスクリプションを作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	var reminderEnabled sql.NullBool
	var reminderDays sql.NullInt64
	var reminderMethod sql.NullString
	if sub.Reminder != nil {
		reminderEnabled = sql.NullBool{Bool: sub.Reminder.Enabled, Valid: true}
		reminderDays = sql.NullInt64{Int64: int64(sub.Reminder.DaysBefore), Valid: true}
		reminderMethod = nullString(string(sub.Reminder.Method))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, name, category, price, currency, period, start_date,
		                            site_url, favicon_data, favicon_mime,
		                            reminder_enabled, reminder_days_before, reminder_method,
		                            created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.Name, nullString(sub.Category), sub.Price, sub.Currency,
		string(sub.Period), sub.StartDate,
		nullString(sub.SiteURL), sub.FaviconData, nullString(sub.FaviconMime),
		reminderEnabled, reminderDays, reminderMethod,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("サブスクリプションの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はサブスクリプションのユーザー編集可能フィールドを更新する。
// カレンダーリンク列には触れない。
func (r *PostgresSubscriptionRepo) Update(ctx context.Context, sub *model.Subscription) error {
	var reminderEnabled sql.NullBool
	var reminderDays sql.NullInt64
	var reminderMethod sql.NullString
	if sub.Reminder != nil {
		reminderEnabled = sql.NullBool{Bool: sub.Reminder.Enabled, Valid: true}
		reminderDays = sql.NullInt64{Int64: int64(sub.Reminder.DaysBefore), Valid: true}
		reminderMethod = nullString(string(sub.Reminder.Method))
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		    name = $2, category = $3, price = $4, currency = $5,
		    period = $6, start_date = $7, site_url = $8,
		    reminder_enabled = $9, reminder_days_before = $10, reminder_method = $11,
		    updated_at = $12
		 WHERE id = $1`,
		sub.ID, sub.Name, nullString(sub.Category), sub.Price, sub.Currency,
		string(sub.Period), sub.StartDate, nullString(sub.SiteURL),
		reminderEnabled, reminderDays, reminderMethod,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("サブスクリプションの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのサブスクリプションを削除する。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("サブスクリプションの削除に失敗しました: %w", err)
	}
	return nil
}

// UpdateCalendarLink はカレンダーリンク列のみを更新する。linkがnilならクリアする。
func (r *PostgresSubscriptionRepo) UpdateCalendarLink(ctx context.Context, id string, link *model.CalendarLink) error {
	var calendarID, eventID, lastError sql.NullString
	var syncedAt sql.NullTime
	if link != nil {
		calendarID = nullString(link.CalendarID)
		eventID = nullString(link.EventID)
		lastError = nullString(link.LastError)
		if !link.SyncedAt.IsZero() {
			syncedAt = sql.NullTime{Time: link.SyncedAt, Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		    calendar_id = $2, event_id = $3, synced_at = $4, last_error = $5,
		    updated_at = now()
		 WHERE id = $1`,
		id, calendarID, eventID, syncedAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("カレンダーリンクの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateFavicon はサブスクリプションのfaviconデータを更新する。
func (r *PostgresSubscriptionRepo) UpdateFavicon(ctx context.Context, id string, faviconData []byte, faviconMime string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET favicon_data = $2, favicon_mime = $3, updated_at = now() WHERE id = $1`,
		id, faviconData, nullString(faviconMime),
	)
	if err != nil {
		return fmt.Errorf("faviconの更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
