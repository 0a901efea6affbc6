package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/subtrack/internal/model"
)

// SettingsStoreInterface は設定ハンドラーが必要とするストアインターフェース。
type SettingsStoreInterface interface {
	// Load は設定を読み込む。未保存の場合はデフォルト値を返す。
	Load(ctx context.Context) (*model.Settings, error)
	// Save は設定を保存する。
	Save(ctx context.Context, settings *model.Settings) error
}

// SettingsHandler はアプリケーション設定のHTTPハンドラー。
type SettingsHandler struct {
	store SettingsStoreInterface
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(store SettingsStoreInterface) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// settingsPayload は設定のAPI表現。
// 専用カレンダーIDはReconcilerが管理するため読み取り専用で返す。
type settingsPayload struct {
	CalendarAutoSyncAll          bool   `json:"calendarAutoSyncAll"`
	CalendarUseDedicatedCalendar bool   `json:"calendarUseDedicatedCalendar"`
	SubscriptionsCalendarID      string `json:"subscriptionsCalendarId,omitempty"`
	CalendarReminderDaysBefore   int    `json:"calendarReminderDaysBefore"`
	CalendarReminderMethod       string `json:"calendarReminderMethod"`
	NotifyDaysBefore             int    `json:"notifyDaysBefore"`
}

// GetSettings は現在の設定を返す。
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Load(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsPayload(settings))
}

// UpdateSettings は設定を更新する。
// 専用カレンダーのキャッシュ済みIDはクライアントから上書きできない。
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if payload.CalendarReminderDaysBefore < model.MinNotifyDaysBefore ||
		payload.CalendarReminderDaysBefore > model.MaxNotifyDaysBefore {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidReminderError(payload.CalendarReminderDaysBefore))
		return
	}

	current, err := h.store.Load(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	current.CalendarAutoSyncAll = payload.CalendarAutoSyncAll
	current.CalendarUseDedicatedCalendar = payload.CalendarUseDedicatedCalendar
	current.CalendarReminderDaysBefore = payload.CalendarReminderDaysBefore
	if payload.CalendarReminderMethod == string(model.ReminderMethodEmail) {
		current.CalendarReminderMethod = model.ReminderMethodEmail
	} else {
		current.CalendarReminderMethod = model.ReminderMethodPopup
	}
	current.NotifyDaysBefore = model.ClampNotifyDays(payload.NotifyDaysBefore)

	if err := h.store.Save(r.Context(), current); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsPayload(current))
}

// toSettingsPayload はmodel.SettingsからAPI表現に変換する。
func toSettingsPayload(settings *model.Settings) settingsPayload {
	return settingsPayload{
		CalendarAutoSyncAll:          settings.CalendarAutoSyncAll,
		CalendarUseDedicatedCalendar: settings.CalendarUseDedicatedCalendar,
		SubscriptionsCalendarID:      settings.CalendarSubscriptionsCalendarID,
		CalendarReminderDaysBefore:   settings.CalendarReminderDaysBefore,
		CalendarReminderMethod:       string(settings.CalendarReminderMethod),
		NotifyDaysBefore:             settings.NotifyDaysBefore,
	}
}
