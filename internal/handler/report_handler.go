package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/subtrack/internal/export"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/subscription"
)

// defaultAgendaDays は更新予定一覧のデフォルト期間。
const defaultAgendaDays = 30

// maxAgendaDays は更新予定一覧の最大期間（1年）。
const maxAgendaDays = 366

// ReportServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	// List は全サブスクリプションを取得する。
	List(ctx context.Context) ([]*model.Subscription, error)
	// ProjectMonthly は今後12ヶ月の支出予測を返す。
	ProjectMonthly(ctx context.Context) (*subscription.MonthlyProjection, error)
	// Agenda はdays日以内に更新日を迎えるサブスクリプションを返す。
	Agenda(ctx context.Context, days int) ([]subscription.AgendaItem, error)
}

// ReportHandler は支出予測と更新予定のHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface) *ReportHandler {
	return &ReportHandler{
		service: service,
		now:     time.Now,
	}
}

// MonthlyProjection は今後12ヶ月の支出予測を返す。
// GET /api/analytics/monthly
func (h *ReportHandler) MonthlyProjection(w http.ResponseWriter, r *http.Request) {
	projection, err := h.service.ProjectMonthly(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projection)
}

// Agenda は期限が近い更新予定の一覧を返す。
// GET /api/agenda?days=N
func (h *ReportHandler) Agenda(w http.ResponseWriter, r *http.Request) {
	days, ok := parseAgendaDays(w, r)
	if !ok {
		return
	}

	items, err := h.service.Agenda(r.Context(), days)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if items == nil {
		items = []subscription.AgendaItem{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// AgendaICS は更新予定をiCalendar形式でエクスポートする。
// GET /api/agenda.ics?days=N
func (h *ReportHandler) AgendaICS(w http.ResponseWriter, r *http.Request) {
	days, ok := parseAgendaDays(w, r)
	if !ok {
		return
	}

	subs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="agenda.ics"`)
	w.Write([]byte(export.BuildAgendaICS(subs, h.now(), days)))
}

// parseAgendaDays はdaysクエリパラメータを解析する。
// 未指定の場合はデフォルト値、不正な場合は400を書き込みfalseを返す。
func parseAgendaDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultAgendaDays, true
	}

	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 || days > maxAgendaDays {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_DAYS",
			Message:  "無効な期間指定です: " + raw,
			Category: "validation",
			Action:   "daysには0〜366の整数を指定してください。",
		})
		return 0, false
	}
	return days, true
}
