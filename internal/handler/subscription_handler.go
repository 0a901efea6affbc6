// Package handler はAPIエンドポイントのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/recur"
	"github.com/hitoshi/subtrack/internal/subscription"
)

// SubscriptionServiceInterface はサブスクリプションハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Get は指定IDのサブスクリプションを取得する。
	Get(ctx context.Context, id string) (*model.Subscription, error)
	// List は全サブスクリプションを取得する。
	List(ctx context.Context) ([]*model.Subscription, error)
	// Create はサブスクリプションを作成する。
	Create(ctx context.Context, input *subscription.Input) (*model.Subscription, error)
	// Update はサブスクリプションを更新する。
	Update(ctx context.Context, id string, input *subscription.Input) (*model.Subscription, error)
	// Delete はサブスクリプションを削除し、非致命的な警告を返す。
	Delete(ctx context.Context, id string) (warning string, err error)
}

// SubscriptionHandler はサブスクリプション管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		now:     time.Now,
	}
}

// reminderResponse はリマインダー上書き設定のAPIレスポンス。
type reminderResponse struct {
	Enabled    bool   `json:"enabled"`
	DaysBefore int    `json:"daysBefore"`
	Method     string `json:"method"`
}

// calendarLinkResponse はカレンダーリンク状態のAPIレスポンス。
type calendarLinkResponse struct {
	CalendarID string     `json:"calendarId,omitempty"`
	EventID    string     `json:"eventId,omitempty"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// subscriptionResponse はサブスクリプションのAPIレスポンス。
type subscriptionResponse struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Category    string                `json:"category,omitempty"`
	Price       float64               `json:"price"`
	Currency    string                `json:"currency"`
	Period      string                `json:"period"`
	StartDate   string                `json:"startDate"`
	SiteURL     string                `json:"siteUrl,omitempty"`
	NextDueDate string                `json:"nextDueDate"`
	HasFavicon  bool                  `json:"hasFavicon"`
	Reminder    *reminderResponse     `json:"reminder,omitempty"`
	Calendar    *calendarLinkResponse `json:"calendar,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// deleteResponse は削除時の警告付きレスポンス。
type deleteResponse struct {
	Warning string `json:"warning"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListSubscriptions は全サブスクリプション一覧を返す。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.now()
	responses := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		responses = append(responses, toSubscriptionResponse(sub, now))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// GetSubscription はサブスクリプション詳細を返す。
// GET /api/subscriptions/:id
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub, h.now()))
}

// CreateSubscription はサブスクリプションを作成する。
// POST /api/subscriptions
func (h *SubscriptionHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var input subscription.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	sub, err := h.service.Create(r.Context(), &input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub, h.now()))
}

// UpdateSubscription はサブスクリプションを更新する。
// PUT /api/subscriptions/:id
func (h *SubscriptionHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var input subscription.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	sub, err := h.service.Update(r.Context(), id, &input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub, h.now()))
}

// DeleteSubscription はサブスクリプションを削除する。
// リモートイベントの削除に失敗した場合は警告メッセージを含む200を返す。
// DELETE /api/subscriptions/:id
func (h *SubscriptionHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	warning, err := h.service.Delete(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if warning != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deleteResponse{Warning: warning})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFavicon はサブスクリプションのfavicon画像を返す。
// 未取得の場合は404。
// GET /api/subscriptions/:id/favicon
func (h *SubscriptionHandler) GetFavicon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if len(sub.FaviconData) == 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "FAVICON_NOT_FOUND",
			Message:  "faviconが取得されていません。",
			Category: "validation",
			Action:   "サイトURLを設定してから再度お試しください。",
		})
		return
	}

	mime := sub.FaviconMime
	if mime == "" {
		mime = "image/x-icon"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(sub.FaviconData)
}

// --- ヘルパー関数 ---

// toSubscriptionResponse はmodel.SubscriptionからAPIレスポンスに変換する。
// 次回更新日はnowを基準に導出する。
func toSubscriptionResponse(sub *model.Subscription, now time.Time) subscriptionResponse {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	resp := subscriptionResponse{
		ID:          sub.ID,
		Name:        sub.Name,
		Category:    sub.Category,
		Price:       sub.Price,
		Currency:    sub.Currency,
		Period:      string(sub.Period),
		StartDate:   sub.StartDate,
		SiteURL:     sub.SiteURL,
		NextDueDate: recur.FormatYMD(recur.NextOccurrence(sub.StartDate, sub.Period, today)),
		HasFavicon:  len(sub.FaviconData) > 0,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}

	if sub.Reminder != nil {
		resp.Reminder = &reminderResponse{
			Enabled:    sub.Reminder.Enabled,
			DaysBefore: sub.Reminder.DaysBefore,
			Method:     string(sub.Reminder.Method),
		}
	}

	if sub.Calendar != nil {
		link := &calendarLinkResponse{
			CalendarID: sub.Calendar.CalendarID,
			EventID:    sub.Calendar.EventID,
			LastError:  sub.Calendar.LastError,
		}
		if !sub.Calendar.SyncedAt.IsZero() {
			syncedAt := sub.Calendar.SyncedAt
			link.SyncedAt = &syncedAt
		}
		resp.Calendar = link
	}

	return resp
}

// invalidRequestError はリクエストボディの解析失敗エラーを生成する。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmptyName,
		model.ErrCodeInvalidPeriod,
		model.ErrCodeInvalidStartDate,
		model.ErrCodeInvalidPrice,
		model.ErrCodeInvalidCurrency,
		model.ErrCodeInvalidReminder:
		return http.StatusBadRequest
	case model.ErrCodeSyncBusy:
		return http.StatusConflict
	case model.ErrCodeSyncFailed:
		return http.StatusBadGateway
	case model.ErrCodeCalendarUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
