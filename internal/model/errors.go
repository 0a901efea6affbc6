// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeInvalidPeriod        = "INVALID_PERIOD"
	ErrCodeInvalidStartDate     = "INVALID_START_DATE"
	ErrCodeInvalidPrice         = "INVALID_PRICE"
	ErrCodeInvalidCurrency      = "INVALID_CURRENCY"
	ErrCodeEmptyName            = "EMPTY_NAME"
	ErrCodeSyncBusy             = "SYNC_BUSY"
	ErrCodeSyncFailed           = "SYNC_FAILED"
	ErrCodeCalendarUnauthorized = "CALENDAR_UNAUTHORIZED"
	ErrCodeInvalidReminder      = "INVALID_REMINDER"
)

// NewSubscriptionNotFoundError はサブスクリプションが見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定されたサブスクリプションが見つかりません: %s", subscriptionID),
		Category: "validation",
		Action:   "サブスクリプションIDを確認してください。",
	}
}

// NewInvalidPeriodError は無効な課金周期エラーを生成する。
func NewInvalidPeriodError(period string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPeriod,
		Message:  fmt.Sprintf("無効な課金周期です: %s", period),
		Category: "validation",
		Action:   "周期には monthly、quarterly、semiannual、annual のいずれかを指定してください。",
	}
}

// NewInvalidStartDateError は無効な開始日エラーを生成する。
func NewInvalidStartDateError(startDate string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStartDate,
		Message:  fmt.Sprintf("無効な開始日です: %s", startDate),
		Category: "validation",
		Action:   "開始日は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidPriceError は無効な価格エラーを生成する。
func NewInvalidPriceError(price float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrice,
		Message:  fmt.Sprintf("無効な価格です: %v", price),
		Category: "validation",
		Action:   "価格には0以上の数値を指定してください。",
	}
}

// NewInvalidCurrencyError は無効な通貨コードエラーを生成する。
func NewInvalidCurrencyError(currency string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCurrency,
		Message:  fmt.Sprintf("無効な通貨コードです: %s", currency),
		Category: "validation",
		Action:   "通貨にはISO-4217形式の3文字コード（USD、EUR等）を指定してください。",
	}
}

// NewEmptyNameError はサービス名未入力エラーを生成する。
func NewEmptyNameError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyName,
		Message:  "サービス名が入力されていません。",
		Category: "validation",
		Action:   "サービス名を入力してください。",
	}
}

// NewSyncBusyError は同期バッチ実行中エラーを生成する。
func NewSyncBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncBusy,
		Message:  "カレンダー同期が既に実行中です。",
		Category: "calendar",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
func NewSyncFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("カレンダー同期に失敗しました: %s", reason),
		Category: "calendar",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCalendarUnauthorizedError はカレンダー認可エラーを生成する。
func NewCalendarUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeCalendarUnauthorized,
		Message:  "カレンダーへのアクセスが許可されていません。",
		Category: "auth",
		Action:   "カレンダー連携を再認可してください。",
	}
}

// NewInvalidReminderError は無効なリマインダー設定エラーを生成する。
func NewInvalidReminderError(daysBefore int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidReminder,
		Message:  fmt.Sprintf("無効なリマインダー日数です: %d", daysBefore),
		Category: "validation",
		Action:   fmt.Sprintf("リマインダー日数は%d〜%dの範囲で指定してください。", MinNotifyDaysBefore, MaxNotifyDaysBefore),
	}
}
