package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
	"github.com/hitoshi/subtrack/internal/repository"
)

// maxReminderDays はサブスクリプション単位のリマインダーの最大リード日数（4週間）。
const maxReminderDays = 28

// Syncer はカレンダー同期のインターフェース。
// sync.Reconcilerを抽象化してテスタビリティを向上させる。
type Syncer interface {
	ReconcileOne(ctx context.Context, subscriptionID string, interactive bool) error
	DeleteRemote(ctx context.Context, sub *model.Subscription, interactive bool) error
}

// TextSanitizer はユーザー入力テキストのサニタイズのインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Input はサブスクリプションの作成・更新入力。
type Input struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     float64         `json:"price"`
	Currency  string          `json:"currency"`
	Period    string          `json:"period"`
	StartDate string          `json:"startDate"`
	SiteURL   string          `json:"siteUrl"`
	Reminder  *model.Reminder `json:"reminder,omitempty"`
}

// Service はサブスクリプション管理のサービス層。
// 作成・更新・削除のオーケストレーション（入力検証、favicon取得、
// 自動カレンダー同期のトリガー）を提供する。
type Service struct {
	subs      repository.SubscriptionRepository
	settings  repository.SettingsRepository
	syncer    Syncer
	sanitizer TextSanitizer
	favicons  FaviconFetcherService
	logger    *slog.Logger

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subs repository.SubscriptionRepository,
	settings repository.SettingsRepository,
	syncer Syncer,
	sanitizer TextSanitizer,
	favicons FaviconFetcherService,
	logger *slog.Logger,
) *Service {
	return &Service{
		subs:      subs,
		settings:  settings,
		syncer:    syncer,
		sanitizer: sanitizer,
		favicons:  favicons,
		logger:    logger,
		now:       time.Now,
	}
}

// Get は指定IDのサブスクリプションを返す。存在しない場合はAPIエラー。
func (s *Service) Get(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError(id)
	}
	return sub, nil
}

// List は全サブスクリプションを返す。
func (s *Service) List(ctx context.Context) ([]*model.Subscription, error) {
	return s.subs.List(ctx)
}

// Create はサブスクリプションを作成する。
// 入力をサニタイズ・検証し、faviconをベストエフォートで取得した上で、
// 設定の自動同期が有効ならカレンダー同期をトリガーする。
// 同期の失敗はローカル作成を妨げない。
func (s *Service) Create(ctx context.Context, input *Input) (*model.Subscription, error) {
	normalized, err := s.normalize(input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &model.Subscription{
		ID:        uuid.NewString(),
		Name:      normalized.Name,
		Category:  normalized.Category,
		Price:     normalized.Price,
		Currency:  normalized.Currency,
		Period:    model.Period(normalized.Period),
		StartDate: normalized.StartDate,
		SiteURL:   normalized.SiteURL,
		Reminder:  normalized.Reminder,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.fetchFavicon(ctx, sub)
	s.autoSync(ctx, sub.ID)

	return s.refresh(ctx, sub)
}

// Update はサブスクリプションを更新する。
// サイトURLが変わった場合はfaviconを取得し直す。
func (s *Service) Update(ctx context.Context, id string, input *Input) (*model.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	normalized, err := s.normalize(input)
	if err != nil {
		return nil, err
	}

	siteChanged := sub.SiteURL != normalized.SiteURL

	sub.Name = normalized.Name
	sub.Category = normalized.Category
	sub.Price = normalized.Price
	sub.Currency = normalized.Currency
	sub.Period = model.Period(normalized.Period)
	sub.StartDate = normalized.StartDate
	sub.SiteURL = normalized.SiteURL
	sub.Reminder = normalized.Reminder
	sub.UpdatedAt = s.now()

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	if siteChanged {
		s.fetchFavicon(ctx, sub)
	}
	s.autoSync(ctx, sub.ID)

	return s.refresh(ctx, sub)
}

// Delete はサブスクリプションを削除する。
// リンク済みリモートイベントはベストエフォートで削除し、失敗は
// 非致命的な警告メッセージとして返す（ローカル削除は必ず実行される）。
func (s *Service) Delete(ctx context.Context, id string) (warning string, err error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if s.syncer != nil {
		if derr := s.syncer.DeleteRemote(ctx, sub, false); derr != nil {
			warning = fmt.Sprintf("カレンダーイベントの削除に失敗しました: %v", derr)
			s.logger.Warn("リモートイベントの削除に失敗しました（ローカル削除は続行）",
				"subscription_id", id,
				"error", derr,
			)
		}
	}

	if err := s.subs.Delete(ctx, id); err != nil {
		return "", err
	}
	return warning, nil
}

// normalize は入力をサニタイズ・検証して正規化済みコピーを返す。
func (s *Service) normalize(input *Input) (*Input, error) {
	out := *input
	out.Name = s.sanitizer.SanitizeText(input.Name)
	out.Category = s.sanitizer.SanitizeText(input.Category)
	out.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	out.StartDate = strings.TrimSpace(input.StartDate)
	out.SiteURL = strings.TrimSpace(input.SiteURL)

	if out.Name == "" {
		return nil, model.NewEmptyNameError()
	}
	if !model.Period(out.Period).IsValid() {
		return nil, model.NewInvalidPeriodError(out.Period)
	}
	if _, err := recur.ParseYMD(out.StartDate); err != nil {
		return nil, model.NewInvalidStartDateError(out.StartDate)
	}
	if out.Price < 0 || math.IsNaN(out.Price) || math.IsInf(out.Price, 0) {
		return nil, model.NewInvalidPriceError(out.Price)
	}
	if len(out.Currency) != 3 {
		return nil, model.NewInvalidCurrencyError(out.Currency)
	}
	if out.Reminder != nil {
		if out.Reminder.DaysBefore < 0 || out.Reminder.DaysBefore > maxReminderDays {
			return nil, model.NewInvalidReminderError(out.Reminder.DaysBefore)
		}
		if out.Reminder.Method != model.ReminderMethodEmail {
			out.Reminder.Method = model.ReminderMethodPopup
		}
	}
	return &out, nil
}

// fetchFavicon はサイトURLからfaviconをベストエフォートで取得・保存する。
func (s *Service) fetchFavicon(ctx context.Context, sub *model.Subscription) {
	if s.favicons == nil || sub.SiteURL == "" {
		return
	}

	data, mime, err := s.favicons.FetchFaviconForSite(ctx, sub.SiteURL)
	if err != nil || data == nil {
		return
	}

	if err := s.subs.UpdateFavicon(ctx, sub.ID, data, mime); err != nil {
		s.logger.Warn("faviconの保存に失敗しました", "subscription_id", sub.ID, "error", err)
		return
	}
	sub.FaviconData = data
	sub.FaviconMime = mime
}

// autoSync は設定の自動同期が有効な場合にカレンダー同期をトリガーする。
// 同期失敗はローカル保存を巻き戻さない（警告ログのみ）。
func (s *Service) autoSync(ctx context.Context, subscriptionID string) {
	if s.syncer == nil {
		return
	}

	settings, err := s.settings.Load(ctx)
	if err != nil {
		s.logger.Warn("設定の読み込みに失敗したため自動同期をスキップします", "error", err)
		return
	}
	if !settings.CalendarAutoSyncAll {
		return
	}

	if err := s.syncer.ReconcileOne(ctx, subscriptionID, false); err != nil {
		s.logger.Warn("自動カレンダー同期に失敗しました",
			"subscription_id", subscriptionID,
			"error", err,
		)
	}
}

// refresh はリポジトリから最新状態を読み直す。
// Reconcilerが書き込んだリンクフィールドを応答へ反映するため。
func (s *Service) refresh(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	fresh, err := s.subs.FindByID(ctx, sub.ID)
	if err != nil || fresh == nil {
		return sub, nil
	}
	return fresh, nil
}
