// Package sync はローカルのサブスクリプションとリモートカレンダーイベントの
// 整合を取るReconcilerを提供する。
//
// 各サブスクリプションにつきリモートの繰り返し終日イベントを最大1つ維持し、
// リンク済みイベントが消失した場合やターゲットカレンダーが変わった場合は
// 自己修復（再作成・移行）する。リモート呼び出しは逐次実行で、
// バッチ同士の多重起動はビジーフラグで抑止する。
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/hitoshi/subtrack/internal/auth"
	"github.com/hitoshi/subtrack/internal/calendar"
	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
	"github.com/hitoshi/subtrack/internal/repository"
)

// DefaultCalendarID はリンク先が未指定のときに使うプライマリカレンダー。
const DefaultCalendarID = "primary"

// defaultDedicatedCalendarName は専用カレンダーのデフォルト表示名。
const defaultDedicatedCalendarName = "Subscriptions"

// ErrBusy はバッチ同期が既に実行中であることを表す。
var ErrBusy = errors.New("同期処理が既に実行中です")

// linkState はサブスクリプションとリモートイベントのリンク状態。
// update→検証get→createのフォールバック連鎖を、例外の入れ子ではなく
// 名前付き状態の遷移として表現する。
type linkState int

const (
	// stateUnlinked はリンクなし（未リンク、または消失が確定した状態）。新規作成する。
	stateUnlinked linkState = iota
	// stateLinked はターゲットカレンダー内に使用可能なリンクがある状態。更新を試みる。
	stateLinked
	// stateMigrating はリンク先がターゲットと異なる状態。旧イベントを
	// ベストエフォートで削除し、未リンクとして作成し直す。
	stateMigrating
)

// BatchResult はバッチ同期の集計結果。
type BatchResult struct {
	OKCount    int    `json:"okCount"`
	FailCount  int    `json:"failCount"`
	FirstError string `json:"firstError,omitempty"`
}

// Config はReconcilerの設定。
type Config struct {
	// DedicatedCalendarName は専用カレンダーモードで使う表示名。
	// 空の場合は"Subscriptions"。
	DedicatedCalendarName string
}

// Reconciler はサブスクリプションとリモートイベントの整合を取る。
// リンク・エラーフィールドの唯一の書き込み側であり、
// ユーザー編集可能フィールドには触れない。
type Reconciler struct {
	subs      repository.SubscriptionRepository
	settings  repository.SettingsRepository
	store     calendar.EventStore
	tokens    auth.TokenProvider
	collector metrics.MetricsCollector
	logger    *slog.Logger

	dedicatedName string

	// now はテストで時刻を固定するためのフック。
	now func() time.Time

	// batchMu はバッチ同期の多重起動を抑止するビジーフラグ。
	batchMu stdsync.Mutex
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	subs repository.SubscriptionRepository,
	settings repository.SettingsRepository,
	store calendar.EventStore,
	tokens auth.TokenProvider,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Reconciler {
	name := config.DedicatedCalendarName
	if name == "" {
		name = defaultDedicatedCalendarName
	}
	return &Reconciler{
		subs:          subs,
		settings:      settings,
		store:         store,
		tokens:        tokens,
		collector:     collector,
		logger:        logger,
		dedicatedName: name,
		now:           time.Now,
	}
}

// ReconcileOne は指定IDのサブスクリプション1件をリモートと整合させる。
// 成功時はリンクとsyncedAtを更新しlastErrorをクリアする。
// 失敗時は既存のリンクフィールドを保持したままlastErrorを記録する
// （syncedAtは最後の成功の履歴として残す）。
func (r *Reconciler) ReconcileOne(ctx context.Context, subscriptionID string, interactive bool) error {
	sub, err := r.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubscriptionNotFoundError(subscriptionID)
	}

	settings, err := r.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	return r.reconcileSub(ctx, sub, settings, interactive)
}

// ReconcileAll は全サブスクリプションを逐次リコンサイルする。
// 個別の失敗はバッチを中断せず集計され、全件が必ず1回試行される。
// 別のバッチが実行中の場合はErrBusyを返す。
func (r *Reconciler) ReconcileAll(ctx context.Context, interactive bool) (*BatchResult, error) {
	if !r.batchMu.TryLock() {
		return nil, ErrBusy
	}
	defer r.batchMu.Unlock()

	subs, err := r.subs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプション一覧の取得に失敗しました: %w", err)
	}

	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	result := &BatchResult{}
	for _, sub := range subs {
		if err := r.reconcileSub(ctx, sub, settings, interactive); err != nil {
			result.FailCount++
			if result.FirstError == "" {
				result.FirstError = err.Error()
			}
			r.logger.Warn("サブスクリプションの同期に失敗しました",
				"subscription_id", sub.ID,
				"name", sub.Name,
				"error", err,
			)
			continue
		}
		result.OKCount++
	}

	r.logger.Info("バッチ同期が完了しました",
		"ok_count", result.OKCount,
		"fail_count", result.FailCount,
	)
	return result, nil
}

// DeleteRemote はサブスクリプションのリンク済みリモートイベントを
// ベストエフォートで削除する。ローカル削除のフローから呼ばれ、
// 失敗してもローカル削除を妨げない（呼び出し側は警告として扱う）。
func (r *Reconciler) DeleteRemote(ctx context.Context, sub *model.Subscription, interactive bool) error {
	if sub.Calendar == nil || sub.Calendar.EventID == "" {
		return nil
	}

	token, err := r.tokens.Acquire(ctx, interactive)
	if err != nil {
		return fmt.Errorf("クレデンシャルの取得に失敗しました: %w", err)
	}

	if err := r.store.Delete(ctx, token, sub.Calendar.CalendarID, sub.Calendar.EventID); err != nil {
		r.invalidateIfUnauthorized(ctx, token, err)
		return fmt.Errorf("リモートイベントの削除に失敗しました: %w", err)
	}
	return nil
}

// reconcileSub は1件のリコンサイルの実体。成功・失敗の記録まで含む。
func (r *Reconciler) reconcileSub(ctx context.Context, sub *model.Subscription, settings *model.Settings, interactive bool) error {
	start := r.now()
	err := r.reconcileCore(ctx, sub, settings, interactive)
	r.collector.RecordSyncLatency(r.now().Sub(start))

	if err != nil {
		r.collector.RecordSyncFailure(sub.ID, classifyFailure(err))
		r.recordFailure(ctx, sub, err)
		return err
	}

	r.collector.RecordSyncSuccess(sub.ID)
	return nil
}

// reconcileCore は状態機械の本体。成功時はリンクの書き戻しまで行う。
func (r *Reconciler) reconcileCore(ctx context.Context, sub *model.Subscription, settings *model.Settings, interactive bool) error {
	token, err := r.tokens.Acquire(ctx, interactive)
	if err != nil {
		return fmt.Errorf("クレデンシャルの取得に失敗しました: %w", err)
	}

	err = r.reconcileWithToken(ctx, token, sub, settings)
	r.invalidateIfUnauthorized(ctx, token, err)
	return err
}

func (r *Reconciler) reconcileWithToken(ctx context.Context, token string, sub *model.Subscription, settings *model.Settings) error {
	// ステップ1: ターゲットカレンダーの解決
	targetID, err := r.resolveTargetContainer(ctx, token, sub, settings)
	if err != nil {
		return err
	}

	next := recur.NextOccurrence(sub.StartDate, sub.Period, startOfDay(r.now()))
	body, err := calendar.BuildEventBody(sub, settings, next)
	if err != nil {
		return err
	}

	state := stateUnlinked
	oldLink := sub.Calendar
	if oldLink != nil && oldLink.EventID != "" {
		if oldLink.CalendarID != "" && oldLink.CalendarID != targetID {
			state = stateMigrating
		} else {
			state = stateLinked
		}
	}

	// ステップ2: 移行。旧イベントをベストエフォートで削除し、未リンクとして扱う。
	if state == stateMigrating {
		if err := r.store.Delete(ctx, token, oldLink.CalendarID, oldLink.EventID); err != nil {
			r.logger.Warn("移行時の旧イベント削除に失敗しました（続行します）",
				"subscription_id", sub.ID,
				"old_calendar_id", oldLink.CalendarID,
				"old_event_id", oldLink.EventID,
				"error", err,
			)
		}
		state = stateUnlinked
	}

	// ステップ3: 更新と検証読み取り。NotFoundまたは開始日の不一致は
	// 「事実上の消失」として未リンクへ遷移する。
	healed := false
	var eventID string
	if state == stateLinked {
		id, err := r.store.Update(ctx, token, targetID, oldLink.EventID, body)
		switch {
		case err == nil:
			verified, verr := r.verifyUpdated(ctx, token, targetID, id, body)
			if verr != nil {
				return verr
			}
			if verified {
				eventID = id
			} else {
				state = stateUnlinked
				healed = true
			}
		case errors.Is(err, calendar.ErrNotFound):
			state = stateUnlinked
			healed = true
		default:
			// NotFound以外の更新失敗は作成へフォールバックしない
			return fmt.Errorf("イベントの更新に失敗しました: %w", err)
		}
	}

	// ステップ4: 作成。専用カレンダーが外部で削除されていた場合は
	// 再作成して1回だけ再試行する。
	if state == stateUnlinked {
		id, err := r.createEvent(ctx, token, targetID, sub, settings, body)
		if err != nil {
			return err
		}
		eventID = id
		// createEventがコンテナを再作成した場合に備えて最新値を読む
		if settings.CalendarUseDedicatedCalendar && settings.CalendarSubscriptionsCalendarID != "" {
			targetID = settings.CalendarSubscriptionsCalendarID
		}
	}

	// ステップ5: 成功の書き戻し
	link := &model.CalendarLink{
		CalendarID: targetID,
		EventID:    eventID,
		SyncedAt:   r.now(),
	}
	if err := r.subs.UpdateCalendarLink(ctx, sub.ID, link); err != nil {
		return err
	}
	sub.Calendar = link

	if healed {
		r.collector.RecordSelfHeal(sub.ID)
		r.logger.Info("消失したリモートイベントを再作成しました",
			"subscription_id", sub.ID,
			"event_id", eventID,
		)
	}
	return nil
}

// resolveTargetContainer はイベントの登録先カレンダーIDを決定する。
// 専用カレンダーモードではキャッシュ済みIDを使い、なければfind-or-createして
// 設定に永続化する。通常モードでは既存リンク先、なければプライマリ。
func (r *Reconciler) resolveTargetContainer(ctx context.Context, token string, sub *model.Subscription, settings *model.Settings) (string, error) {
	if !settings.CalendarUseDedicatedCalendar {
		if sub.Calendar != nil && sub.Calendar.CalendarID != "" {
			return sub.Calendar.CalendarID, nil
		}
		return DefaultCalendarID, nil
	}

	if settings.CalendarSubscriptionsCalendarID != "" {
		return settings.CalendarSubscriptionsCalendarID, nil
	}

	id, err := r.store.EnsureNamedContainer(ctx, token, r.dedicatedName)
	if err != nil {
		return "", fmt.Errorf("専用カレンダーの解決に失敗しました: %w", err)
	}

	settings.CalendarSubscriptionsCalendarID = id
	if err := r.settings.Save(ctx, settings); err != nil {
		r.logger.Warn("専用カレンダーIDの保存に失敗しました（続行します）", "error", err)
	}
	return id, nil
}

// verifyUpdated は更新直後のイベントを読み直し、開始日が意図した発生日と
// 一致するかを確認する。NotFoundまたは不一致ならfalse（事実上の消失）。
// リクエスト内容と一致しないイベントを成功として報告しないための検証。
func (r *Reconciler) verifyUpdated(ctx context.Context, token, calendarID, eventID string, body *calendar.EventBody) (bool, error) {
	ev, err := r.store.Get(ctx, token, calendarID, eventID)
	if errors.Is(err, calendar.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("イベントの検証読み取りに失敗しました: %w", err)
	}
	return ev.Start.Date == body.Start.Date, nil
}

// createEvent はイベントを作成する。専用カレンダーモードでコンテナが
// NotFoundの場合（外部で削除された場合）はコンテナを再作成して設定を更新し、
// 1回だけ再試行する。2回目の失敗はこの件の終端失敗。
func (r *Reconciler) createEvent(ctx context.Context, token, targetID string, sub *model.Subscription, settings *model.Settings, body *calendar.EventBody) (string, error) {
	id, err := r.store.Create(ctx, token, targetID, body)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, calendar.ErrNotFound) || !settings.CalendarUseDedicatedCalendar {
		return "", fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}

	refreshed, eerr := r.store.EnsureNamedContainer(ctx, token, r.dedicatedName)
	if eerr != nil {
		return "", fmt.Errorf("専用カレンダーの再作成に失敗しました: %w", eerr)
	}

	settings.CalendarSubscriptionsCalendarID = refreshed
	if serr := r.settings.Save(ctx, settings); serr != nil {
		r.logger.Warn("再作成した専用カレンダーIDの保存に失敗しました（続行します）", "error", serr)
	}

	id, err = r.store.Create(ctx, token, refreshed, body)
	if err != nil {
		return "", fmt.Errorf("再作成したカレンダーへのイベント作成に失敗しました: %w", err)
	}
	return id, nil
}

// recordFailure は失敗時のlastErrorを書き戻す。既存のリンクフィールドと
// syncedAt（最後の成功の履歴）は保持する。
func (r *Reconciler) recordFailure(ctx context.Context, sub *model.Subscription, cause error) {
	link := &model.CalendarLink{LastError: cause.Error()}
	if sub.Calendar != nil {
		link.CalendarID = sub.Calendar.CalendarID
		link.EventID = sub.Calendar.EventID
		link.SyncedAt = sub.Calendar.SyncedAt
	}

	if err := r.subs.UpdateCalendarLink(ctx, sub.ID, link); err != nil {
		r.logger.Error("同期エラーの記録に失敗しました",
			"subscription_id", sub.ID,
			"error", err,
		)
		return
	}
	sub.Calendar = link
}

// invalidateIfUnauthorized は認可エラー時にキャッシュ済みトークンを破棄する。
// create/update分岐とは直交し、どのステップで発生しても適用される。
func (r *Reconciler) invalidateIfUnauthorized(ctx context.Context, token string, err error) {
	if err == nil || !errors.Is(err, calendar.ErrUnauthorized) {
		return
	}
	if ierr := r.tokens.Invalidate(ctx, token); ierr != nil {
		r.logger.Warn("トークンの無効化に失敗しました", "error", ierr)
	}
	r.collector.RecordTokenInvalidation()
}

// classifyFailure はメトリクス用の失敗理由ラベルを返す。
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, calendar.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, calendar.ErrNotFound):
		return "not_found"
	default:
		return "remote_error"
	}
}

// startOfDay は時刻成分を落としたローカル日付を返す。
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
