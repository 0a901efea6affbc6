package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCalendarAPIBaseURL = "https://www.googleapis.com/calendar/v3"
	defaultRequestTimeout     = 10 * time.Second
	// defaultRequestsPerSecond はリモートAPIへのリクエストレート上限。
	// バースト的な呼び出しでレート制限に当たるのを防ぐ。
	defaultRequestsPerSecond = 5
)

// GoogleStoreConfig はGoogleEventStoreの設定。
type GoogleStoreConfig struct {
	// テスト用にオーバーライド可能なベースURL
	BaseURL string

	Timeout           time.Duration
	RequestsPerSecond float64
}

// GoogleEventStore はGoogle Calendar v3 REST APIを使用したEventStore実装。
// 全リクエストをトークンバケットレートリミッターで制限する。
type GoogleEventStore struct {
	config  GoogleStoreConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGoogleEventStore はGoogleEventStoreを生成する。
func NewGoogleEventStore(config GoogleStoreConfig) *GoogleEventStore {
	if config.BaseURL == "" {
		config.BaseURL = defaultCalendarAPIBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultRequestTimeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRequestsPerSecond
	}
	return &GoogleEventStore{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}
}

// Create は指定カレンダーにイベントを作成し、イベントIDを返す。
func (s *GoogleEventStore) Create(ctx context.Context, token, calendarID string, body *EventBody) (string, error) {
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	var created Event
	if err := s.do(ctx, token, http.MethodPost, path, body, &created); err != nil {
		return "", fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("イベント作成レスポンスにIDが含まれていません")
	}
	return created.ID, nil
}

// Update は既存イベントを更新し、イベントIDを返す。
// イベントIDが未知の場合はErrNotFoundで失敗する。
func (s *GoogleEventStore) Update(ctx context.Context, token, calendarID, eventID string, body *EventBody) (string, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	var updated Event
	if err := s.do(ctx, token, http.MethodPatch, path, body, &updated); err != nil {
		return "", fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}
	if updated.ID == "" {
		// 一部のAPIはPATCHでボディを返さないことがあるため、既存IDを維持する
		return eventID, nil
	}
	return updated.ID, nil
}

// Get はイベントを取得する。存在しない場合はErrNotFoundで失敗する。
func (s *GoogleEventStore) Get(ctx context.Context, token, calendarID, eventID string) (*Event, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	var event Event
	if err := s.do(ctx, token, http.MethodGet, path, nil, &event); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	return &event, nil
}

// Delete はイベントを削除する。存在しない場合も成功として扱う（冪等削除）。
func (s *GoogleEventStore) Delete(ctx context.Context, token, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	err := s.do(ctx, token, http.MethodDelete, path, nil, nil)
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return nil
	}
	return fmt.Errorf("イベントの削除に失敗しました: %w", err)
}

// calendarListResponse はカレンダー一覧APIのレスポンス。
type calendarListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	} `json:"items"`
}

// EnsureNamedContainer は表示名でカレンダーコンテナをfind-or-createし、IDを返す。
// 表示名の比較は前後空白を除去した上で大文字小文字を区別しない。
func (s *GoogleEventStore) EnsureNamedContainer(ctx context.Context, token, name string) (string, error) {
	desired := strings.TrimSpace(name)
	if desired == "" {
		return "", fmt.Errorf("カレンダー名が空です")
	}

	var list calendarListResponse
	if err := s.do(ctx, token, http.MethodGet, "/users/me/calendarList?minAccessRole=writer", nil, &list); err != nil {
		return "", fmt.Errorf("カレンダー一覧の取得に失敗しました: %w", err)
	}

	for _, item := range list.Items {
		if strings.EqualFold(strings.TrimSpace(item.Summary), desired) && item.ID != "" {
			return item.ID, nil
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]string{"summary": desired}
	if err := s.do(ctx, token, http.MethodPost, "/calendars", body, &created); err != nil {
		return "", fmt.Errorf("カレンダーの作成に失敗しました: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("カレンダー作成レスポンスにIDが含まれていません")
	}

	// ベストエフォート: ユーザーのカレンダー一覧への登録。
	// 所有カレンダーは通常自動で一覧に現れるため、失敗は無視する。
	_ = s.do(ctx, token, http.MethodPost, "/users/me/calendarList", map[string]string{"id": created.ID}, nil)

	return created.ID, nil
}

// do はレートリミッターを通してHTTPリクエストを実行し、レスポンスをoutへデコードする。
// 404はErrNotFound、401/403はErrUnauthorizedとして分類する。
func (s *GoogleEventStore) do(ctx context.Context, token, method, path string, body, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レートリミッター待機に失敗しました: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
		}
	}
	return nil
}

// classifyStatus はHTTPステータスコードをエラーに分類する。
func classifyStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return fmt.Errorf("status %d: %w", statusCode, ErrNotFound)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", statusCode, ErrUnauthorized)
	default:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("予期しないHTTPステータス %d: %s", statusCode, msg)
	}
}

// compile-time interface check
var _ EventStore = (*GoogleEventStore)(nil)
