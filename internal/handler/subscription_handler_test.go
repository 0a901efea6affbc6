package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/subscription"
)

// --- モック定義 ---

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	getFn    func(ctx context.Context, id string) (*model.Subscription, error)
	listFn   func(ctx context.Context) ([]*model.Subscription, error)
	createFn func(ctx context.Context, input *subscription.Input) (*model.Subscription, error)
	updateFn func(ctx context.Context, id string, input *subscription.Input) (*model.Subscription, error)
	deleteFn func(ctx context.Context, id string) (string, error)
}

func (m *mockSubscriptionService) Get(ctx context.Context, id string) (*model.Subscription, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewSubscriptionNotFoundError(id)
}

func (m *mockSubscriptionService) List(ctx context.Context) ([]*model.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Create(ctx context.Context, input *subscription.Input) (*model.Subscription, error) {
	if m.createFn != nil {
		return m.createFn(ctx, input)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Update(ctx context.Context, id string, input *subscription.Input) (*model.Subscription, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, input)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Delete(ctx context.Context, id string) (string, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return "", nil
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

var handlerFixedNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.Local)

func testSubscription() *model.Subscription {
	return &model.Subscription{
		ID:        "sub-1",
		Name:      "Netflix",
		Category:  "動画",
		Price:     1490,
		Currency:  "JPY",
		Period:    model.PeriodMonthly,
		StartDate: "2024-01-15",
		SiteURL:   "https://www.netflix.com",
		CreatedAt: handlerFixedNow,
		UpdatedAt: handlerFixedNow,
	}
}

// --- GET /api/subscriptions テスト ---

func TestSubscriptionHandler_ListSubscriptions_Success(t *testing.T) {
	svc := &mockSubscriptionService{
		listFn: func(ctx context.Context) ([]*model.Subscription, error) {
			return []*model.Subscription{testSubscription()}, nil
		},
	}

	h := NewSubscriptionHandler(svc)
	h.now = func() time.Time { return handlerFixedNow }

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	w := httptest.NewRecorder()

	h.ListSubscriptions(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("result length = %d, want 1", len(result))
	}

	sub := result[0]
	if sub["id"] != "sub-1" {
		t.Errorf("id = %v, want %q", sub["id"], "sub-1")
	}
	if sub["name"] != "Netflix" {
		t.Errorf("name = %v, want %q", sub["name"], "Netflix")
	}
	// 次回更新日は2024-06-01基準で導出される
	if sub["nextDueDate"] != "2024-06-15" {
		t.Errorf("nextDueDate = %v, want %q", sub["nextDueDate"], "2024-06-15")
	}
	if sub["hasFavicon"] != false {
		t.Errorf("hasFavicon = %v, want false", sub["hasFavicon"])
	}
}

func TestSubscriptionHandler_ListSubscriptions_Empty(t *testing.T) {
	h := NewSubscriptionHandler(&mockSubscriptionService{})
	h.now = func() time.Time { return handlerFixedNow }

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	w := httptest.NewRecorder()

	h.ListSubscriptions(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	// 空でも[]を返す（nullにしない）
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want %q", got, "[]\n")
	}
}

// --- GET /api/subscriptions/:id テスト ---

func TestSubscriptionHandler_GetSubscription_Success(t *testing.T) {
	sub := testSubscription()
	sub.Calendar = &model.CalendarLink{
		CalendarID: "primary",
		EventID:    "event-1",
		SyncedAt:   handlerFixedNow,
	}

	svc := &mockSubscriptionService{
		getFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			if id != "sub-1" {
				t.Errorf("id = %q, want %q", id, "sub-1")
			}
			return sub, nil
		},
	}

	h := NewSubscriptionHandler(svc)
	h.now = func() time.Time { return handlerFixedNow }

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1", nil)
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.GetSubscription(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	calendar, ok := result["calendar"].(map[string]interface{})
	if !ok {
		t.Fatal("expected 'calendar' field in response")
	}
	if calendar["calendarId"] != "primary" {
		t.Errorf("calendarId = %v, want %q", calendar["calendarId"], "primary")
	}
	if calendar["eventId"] != "event-1" {
		t.Errorf("eventId = %v, want %q", calendar["eventId"], "event-1")
	}
}

func TestSubscriptionHandler_GetSubscription_NotFound(t *testing.T) {
	h := NewSubscriptionHandler(&mockSubscriptionService{})

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/missing", nil)
	req = withChiURLParam(req, "id", "missing")
	w := httptest.NewRecorder()

	h.GetSubscription(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeSubscriptionNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeSubscriptionNotFound)
	}
}

// --- POST /api/subscriptions テスト ---

func TestSubscriptionHandler_CreateSubscription_Success(t *testing.T) {
	svc := &mockSubscriptionService{
		createFn: func(ctx context.Context, input *subscription.Input) (*model.Subscription, error) {
			if input.Name != "Netflix" {
				t.Errorf("input.Name = %q, want %q", input.Name, "Netflix")
			}
			if input.Period != "monthly" {
				t.Errorf("input.Period = %q, want %q", input.Period, "monthly")
			}
			return testSubscription(), nil
		},
	}

	h := NewSubscriptionHandler(svc)
	h.now = func() time.Time { return handlerFixedNow }

	payload := `{"name":"Netflix","price":1490,"currency":"JPY","period":"monthly","startDate":"2024-01-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()

	h.CreateSubscription(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
}

func TestSubscriptionHandler_CreateSubscription_InvalidJSON(t *testing.T) {
	h := NewSubscriptionHandler(&mockSubscriptionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()

	h.CreateSubscription(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %q, want %q", body["code"], "INVALID_REQUEST")
	}
}

func TestSubscriptionHandler_CreateSubscription_ValidationError(t *testing.T) {
	svc := &mockSubscriptionService{
		createFn: func(ctx context.Context, input *subscription.Input) (*model.Subscription, error) {
			return nil, model.NewInvalidPeriodError("weekly")
		},
	}

	h := NewSubscriptionHandler(svc)

	payload := `{"name":"X","price":100,"currency":"JPY","period":"weekly","startDate":"2024-01-01"}`
	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()

	h.CreateSubscription(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeInvalidPeriod {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidPeriod)
	}
	if body["category"] != "validation" {
		t.Errorf("category = %q, want %q", body["category"], "validation")
	}
}

// --- PUT /api/subscriptions/:id テスト ---

func TestSubscriptionHandler_UpdateSubscription_Success(t *testing.T) {
	svc := &mockSubscriptionService{
		updateFn: func(ctx context.Context, id string, input *subscription.Input) (*model.Subscription, error) {
			if id != "sub-1" {
				t.Errorf("id = %q, want %q", id, "sub-1")
			}
			sub := testSubscription()
			sub.Name = input.Name
			return sub, nil
		},
	}

	h := NewSubscriptionHandler(svc)
	h.now = func() time.Time { return handlerFixedNow }

	payload := `{"name":"Netflix Premium","price":1980,"currency":"JPY","period":"monthly","startDate":"2024-01-15"}`
	req := httptest.NewRequest(http.MethodPut, "/api/subscriptions/sub-1", bytes.NewBufferString(payload))
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.UpdateSubscription(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["name"] != "Netflix Premium" {
		t.Errorf("name = %v, want %q", result["name"], "Netflix Premium")
	}
}

// --- DELETE /api/subscriptions/:id テスト ---

func TestSubscriptionHandler_DeleteSubscription_NoWarning_Returns204(t *testing.T) {
	svc := &mockSubscriptionService{
		deleteFn: func(ctx context.Context, id string) (string, error) {
			return "", nil
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/sub-1", nil)
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.DeleteSubscription(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
}

func TestSubscriptionHandler_DeleteSubscription_WithWarning_Returns200(t *testing.T) {
	svc := &mockSubscriptionService{
		deleteFn: func(ctx context.Context, id string) (string, error) {
			return "カレンダーイベントの削除に失敗しました", nil
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/sub-1", nil)
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.DeleteSubscription(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["warning"] == "" {
		t.Error("expected 'warning' field in response")
	}
}

func TestSubscriptionHandler_DeleteSubscription_NotFound(t *testing.T) {
	svc := &mockSubscriptionService{
		deleteFn: func(ctx context.Context, id string) (string, error) {
			return "", model.NewSubscriptionNotFoundError(id)
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/missing", nil)
	req = withChiURLParam(req, "id", "missing")
	w := httptest.NewRecorder()

	h.DeleteSubscription(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// --- GET /api/subscriptions/:id/favicon テスト ---

func TestSubscriptionHandler_GetFavicon_Success(t *testing.T) {
	sub := testSubscription()
	sub.FaviconData = []byte{0x89, 0x50, 0x4e, 0x47}
	sub.FaviconMime = "image/png"

	svc := &mockSubscriptionService{
		getFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return sub, nil
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/favicon", nil)
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.GetFavicon(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/png")
	}
	if !bytes.Equal(w.Body.Bytes(), sub.FaviconData) {
		t.Error("response body should be the favicon bytes")
	}
}

func TestSubscriptionHandler_GetFavicon_NotFetched_Returns404(t *testing.T) {
	svc := &mockSubscriptionService{
		getFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return testSubscription(), nil
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/favicon", nil)
	req = withChiURLParam(req, "id", "sub-1")
	w := httptest.NewRecorder()

	h.GetFavicon(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// --- サービスエラーのマッピングテスト ---

func TestSubscriptionHandler_InternalError_Returns500(t *testing.T) {
	svc := &mockSubscriptionService{
		listFn: func(ctx context.Context) ([]*model.Subscription, error) {
			return nil, errors.New("db connection lost")
		},
	}

	h := NewSubscriptionHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	w := httptest.NewRecorder()

	h.ListSubscriptions(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body["code"], "INTERNAL_ERROR")
	}
}
