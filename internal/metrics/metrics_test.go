package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue はレジストリから指定名のカウンタ値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSyncSuccess_IncrementsCounter は同期成功カウンタが増加することを検証する。
func TestRecordSyncSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncSuccess("sub-1")
	c.RecordSyncSuccess("sub-1")

	if got := counterValue(t, reg, "subtrack_sync_success_total"); got != 2 {
		t.Errorf("sync_success_total = %v, want 2", got)
	}
}

// TestRecordSyncFailure_IncrementsCounterPerReason は失敗カウンタが理由別に増加することを検証する。
func TestRecordSyncFailure_IncrementsCounterPerReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncFailure("sub-1", "unauthorized")
	c.RecordSyncFailure("sub-2", "remote_error")
	c.RecordSyncFailure("sub-3", "remote_error")

	if got := counterValue(t, reg, "subtrack_sync_fail_total"); got != 3 {
		t.Errorf("sync_fail_total = %v, want 3", got)
	}
}

// TestRecordSelfHeal_IncrementsCounter は自己修復カウンタが増加することを検証する。
func TestRecordSelfHeal_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSelfHeal("sub-1")

	if got := counterValue(t, reg, "subtrack_sync_self_heal_total"); got != 1 {
		t.Errorf("self_heal_total = %v, want 1", got)
	}
}

// TestRecordRemindersSent_AddsCount は通知数が加算されることを検証する。
func TestRecordRemindersSent_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRemindersSent(3)
	c.RecordRemindersSent(2)

	if got := counterValue(t, reg, "subtrack_reminders_sent_total"); got != 5 {
		t.Errorf("reminders_sent_total = %v, want 5", got)
	}
}

// TestRecordSyncLatency_Observes はレイテンシの記録がパニックしないことを検証する。
func TestRecordSyncLatency_Observes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncLatency(250 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == "subtrack_sync_latency_seconds" {
			if mf.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
				t.Error("expected 1 latency sample")
			}
			return
		}
	}
	t.Error("subtrack_sync_latency_seconds metric not found")
}

// TestRecordTokenInvalidation_IncrementsCounter はトークン無効化カウンタが増加することを検証する。
func TestRecordTokenInvalidation_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenInvalidation()

	if got := counterValue(t, reg, "subtrack_token_invalidation_total"); got != 1 {
		t.Errorf("token_invalidation_total = %v, want 1", got)
	}
}

// TestCollectorInterface はMetricsCollectorインターフェースの適合を検証する。
func TestCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}
