// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Reconcilerやワーカー、サービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(subscriptionID string)
	RecordSyncFailure(subscriptionID string, reason string)
	RecordSelfHeal(subscriptionID string)
	RecordSyncLatency(duration time.Duration)
	RecordRemindersSent(count int)
	RecordTokenInvalidation()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     prometheus.Counter
	syncFail        *prometheus.CounterVec
	selfHeal        prometheus.Counter
	syncLatency     prometheus.Histogram
	remindersSent   prometheus.Counter
	tokenInvalidate prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtrack_sync_success_total",
			Help: "カレンダー同期成功の合計数",
		}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subtrack_sync_fail_total",
			Help: "カレンダー同期失敗の合計数（理由別）",
		}, []string{"reason"}),
		selfHeal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtrack_sync_self_heal_total",
			Help: "リモートイベント消失からの自己修復（再作成）の合計数",
		}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subtrack_sync_latency_seconds",
			Help:    "1サブスクリプションの同期レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtrack_reminders_sent_total",
			Help: "送信されたローカル通知の合計数",
		}),
		tokenInvalidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtrack_token_invalidation_total",
			Help: "認証エラーによるトークン無効化の合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.selfHeal,
		c.syncLatency,
		c.remindersSent,
		c.tokenInvalidate,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(subscriptionID string) {
	c.syncSuccess.Inc()
}

// RecordSyncFailure は同期失敗を理由付きで記録する。
func (c *Collector) RecordSyncFailure(subscriptionID string, reason string) {
	c.syncFail.WithLabelValues(reason).Inc()
}

// RecordSelfHeal はリモートイベント消失からの再作成を記録する。
func (c *Collector) RecordSelfHeal(subscriptionID string) {
	c.selfHeal.Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordRemindersSent は送信された通知数を記録する。
func (c *Collector) RecordRemindersSent(count int) {
	c.remindersSent.Add(float64(count))
}

// RecordTokenInvalidation はトークン無効化を記録する。
func (c *Collector) RecordTokenInvalidation() {
	c.tokenInvalidate.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
