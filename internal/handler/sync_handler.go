package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subtrack/internal/calendar"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/sync"
)

// SyncServiceInterface は同期ハンドラーが必要とするリコンサイラーインターフェース。
type SyncServiceInterface interface {
	// ReconcileOne は1件のサブスクリプションをリモートカレンダーと整合させる。
	ReconcileOne(ctx context.Context, subscriptionID string, interactive bool) error
	// ReconcileAll は全サブスクリプションを逐次リコンサイルする。
	ReconcileAll(ctx context.Context, interactive bool) (*sync.BatchResult, error)
}

// SyncHandler はカレンダー同期のHTTPハンドラー。
// APIからの同期はユーザー操作起点のため、常にinteractiveモードで実行する
// （キャッシュ切れのクレデンシャルをリフレッシュグラントで再取得できる）。
type SyncHandler struct {
	syncer SyncServiceInterface
	subs   SubscriptionServiceInterface

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(syncer SyncServiceInterface, subs SubscriptionServiceInterface) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
		subs:   subs,
		now:    time.Now,
	}
}

// SyncOne は1件のサブスクリプションを同期し、最新状態を返す。
// POST /api/subscriptions/:id/sync
func (h *SyncHandler) SyncOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.syncer.ReconcileOne(r.Context(), id, true); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		if errors.Is(err, calendar.ErrUnauthorized) {
			handleServiceError(w, model.NewCalendarUnauthorizedError())
			return
		}
		// 同期エラーはリンク状態のLastErrorに永続化済み。
		// クライアントには同期失敗として返す。
		handleServiceError(w, model.NewSyncFailedError(err.Error()))
		return
	}

	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub, h.now()))
}

// SyncAll は全サブスクリプションの一括同期を実行し、集計結果を返す。
// 既にバッチが実行中の場合は409を返す。
// POST /api/sync
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.ReconcileAll(r.Context(), true)
	if err != nil {
		if errors.Is(err, sync.ErrBusy) {
			handleServiceError(w, model.NewSyncBusyError())
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
