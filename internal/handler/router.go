package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サブスクリプション
	SubscriptionService SubscriptionServiceInterface

	// レポート
	ReportService ReportServiceInterface

	// カレンダー同期
	SyncService SyncServiceInterface

	// 設定
	SettingsStore SettingsStoreInterface

	// メトリクス（nilの場合は/metricsを公開しない）
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → Logging → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}

	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	reportHandler := NewReportHandler(deps.ReportService)
	syncHandler := NewSyncHandler(deps.SyncService, deps.SubscriptionService)
	settingsHandler := NewSettingsHandler(deps.SettingsStore)

	// --- レート制限の外のルート ---

	r.Get("/health", healthHandler)

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// サブスクリプション管理
		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.Post("/", subHandler.CreateSubscription)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", subHandler.GetSubscription)
				r.Put("/", subHandler.UpdateSubscription)
				r.Delete("/", subHandler.DeleteSubscription)
				r.Get("/favicon", subHandler.GetFavicon)

				// POST /api/subscriptions/{id}/sync - 1件同期（同期専用レート制限を追加）
				if deps.RateLimiter != nil {
					r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync", syncHandler.SyncOne)
				} else {
					r.Post("/sync", syncHandler.SyncOne)
				}
			})
		})

		// 一括同期（同期専用レート制限を追加）
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.SyncMiddleware()).Post("/api/sync", syncHandler.SyncAll)
		} else {
			r.Post("/api/sync", syncHandler.SyncAll)
		}

		// レポート
		r.Get("/api/analytics/monthly", reportHandler.MonthlyProjection)
		r.Get("/api/agenda", reportHandler.Agenda)
		r.Get("/api/agenda.ics", reportHandler.AgendaICS)

		// 設定
		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.GetSettings)
			r.Put("/", settingsHandler.UpdateSettings)
		})
	})

	return r
}

// healthHandler はヘルスチェックに応答する。
// GET /health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
