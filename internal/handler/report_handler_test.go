package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/subscription"
)

// mockReportService はReportServiceInterfaceのモック実装。
type mockReportService struct {
	listFn           func(ctx context.Context) ([]*model.Subscription, error)
	projectMonthlyFn func(ctx context.Context) (*subscription.MonthlyProjection, error)
	agendaFn         func(ctx context.Context, days int) ([]subscription.AgendaItem, error)
}

func (m *mockReportService) List(ctx context.Context) ([]*model.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockReportService) ProjectMonthly(ctx context.Context) (*subscription.MonthlyProjection, error) {
	if m.projectMonthlyFn != nil {
		return m.projectMonthlyFn(ctx)
	}
	return &subscription.MonthlyProjection{}, nil
}

func (m *mockReportService) Agenda(ctx context.Context, days int) ([]subscription.AgendaItem, error) {
	if m.agendaFn != nil {
		return m.agendaFn(ctx, days)
	}
	return nil, nil
}

// --- GET /api/analytics/monthly テスト ---

func TestReportHandler_MonthlyProjection_Success(t *testing.T) {
	svc := &mockReportService{
		projectMonthlyFn: func(ctx context.Context) (*subscription.MonthlyProjection, error) {
			return &subscription.MonthlyProjection{
				Months: []subscription.MonthSpend{
					{Month: "2024-06", Totals: map[string]float64{"JPY": 1490}},
				},
				MonthlyEquivalent: map[string]float64{"JPY": 1490},
			}, nil
		},
	}

	h := NewReportHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/monthly", nil)
	w := httptest.NewRecorder()

	h.MonthlyProjection(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	months, ok := result["months"].([]interface{})
	if !ok || len(months) != 1 {
		t.Fatalf("months = %v, want 1 entry", result["months"])
	}
	if _, ok := result["monthlyEquivalent"]; !ok {
		t.Error("expected 'monthlyEquivalent' field in response")
	}
}

// --- GET /api/agenda テスト ---

func TestReportHandler_Agenda_DefaultDays(t *testing.T) {
	svc := &mockReportService{
		agendaFn: func(ctx context.Context, days int) ([]subscription.AgendaItem, error) {
			if days != defaultAgendaDays {
				t.Errorf("days = %d, want %d", days, defaultAgendaDays)
			}
			return []subscription.AgendaItem{
				{Subscription: testSubscription(), DueDate: "2024-06-15"},
			}, nil
		},
	}

	h := NewReportHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/agenda", nil)
	w := httptest.NewRecorder()

	h.Agenda(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var items []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0]["dueDate"] != "2024-06-15" {
		t.Errorf("dueDate = %v, want %q", items[0]["dueDate"], "2024-06-15")
	}
}

func TestReportHandler_Agenda_CustomDays(t *testing.T) {
	svc := &mockReportService{
		agendaFn: func(ctx context.Context, days int) ([]subscription.AgendaItem, error) {
			if days != 7 {
				t.Errorf("days = %d, want 7", days)
			}
			return nil, nil
		},
	}

	h := NewReportHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/agenda?days=7", nil)
	w := httptest.NewRecorder()

	h.Agenda(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	// 空でも[]を返す（nullにしない）
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want %q", got, "[]")
	}
}

func TestReportHandler_Agenda_InvalidDays(t *testing.T) {
	h := NewReportHandler(&mockReportService{})

	tests := []string{"abc", "-1", "1000"}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/agenda?days="+raw, nil)
			w := httptest.NewRecorder()

			h.Agenda(w, req)

			if w.Result().StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
			}
		})
	}
}

// --- GET /api/agenda.ics テスト ---

func TestReportHandler_AgendaICS_ReturnsCalendar(t *testing.T) {
	svc := &mockReportService{
		listFn: func(ctx context.Context) ([]*model.Subscription, error) {
			return []*model.Subscription{testSubscription()}, nil
		},
	}

	h := NewReportHandler(svc)
	h.now = func() time.Time { return handlerFixedNow }

	req := httptest.NewRequest(http.MethodGet, "/api/agenda.ics?days=30", nil)
	w := httptest.NewRecorder()

	h.AgendaICS(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q, want text/calendar", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Error("expected VCALENDAR in response body")
	}
	// 2024-06-01から30日以内の発生日（6/15）がVEVENTとして含まれる
	if !strings.Contains(body, "BEGIN:VEVENT") {
		t.Error("expected VEVENT in response body")
	}
	if !strings.Contains(body, "Netflix") {
		t.Error("expected subscription name in response body")
	}
}
