package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketintel_runs_total",
		Help: "Total engine runs by operation and mode",
	}, []string{"operation", "mode"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketintel_run_duration_seconds",
		Help:    "Duration of engine runs",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"operation"})

	ticketsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketintel_tickets_processed_total",
		Help: "Tickets processed by operation",
	}, []string{"operation"})

	chunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketintel_chunk_failures_total",
		Help: "Chunks rolled back because of store failures",
	}, []string{"operation"})

	deltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketintel_deltas_total",
		Help: "Persisted changes by operation and kind",
	}, []string{"operation", "kind"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketintel_sla_alerts_raised_total",
		Help: "SLA alerts escalated by severity",
	}, []string{"severity"})
)

// RunStat 某类运行的进程内统计（健康检查使用）
type RunStat struct {
	Runs          uint64    `json:"runs"`
	ChunkFailures uint64    `json:"chunk_failures"`
	LastProcessed int       `json:"last_processed"`
	LastDuration  float64   `json:"last_duration_seconds"`
	LastRunAt     time.Time `json:"last_run_at"`
	LastDryRun    bool      `json:"last_dry_run"`
}

type runStats struct {
	mu   sync.Mutex
	byOp map[string]RunStat
}

var rs runStats

// ObserveRun 记录一次运行
func ObserveRun(operation string, dryRun bool, d time.Duration, processed, failures int) {
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}
	runsTotal.WithLabelValues(operation, mode).Inc()
	runDuration.WithLabelValues(operation).Observe(d.Seconds())
	ticketsProcessed.WithLabelValues(operation).Add(float64(processed))
	if failures > 0 {
		chunkFailures.WithLabelValues(operation).Add(float64(failures))
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.byOp == nil {
		rs.byOp = make(map[string]RunStat)
	}
	stat := rs.byOp[operation]
	stat.Runs++
	stat.ChunkFailures += uint64(failures)
	stat.LastProcessed = processed
	stat.LastDuration = d.Seconds()
	stat.LastRunAt = time.Now()
	stat.LastDryRun = dryRun
	rs.byOp[operation] = stat
}

// AddDelta 记录持久化的变更数量，n ≤ 0 时忽略
func AddDelta(operation, kind string, n int) {
	if n <= 0 {
		return
	}
	deltas.WithLabelValues(operation, kind).Add(float64(n))
}

// IncAlertRaised 告警升级计数
func IncAlertRaised(severity string) {
	alertsRaised.WithLabelValues(severity).Inc()
}

// RunSnapshot 返回统计副本
func RunSnapshot() map[string]RunStat {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]RunStat, len(rs.byOp))
	for k, v := range rs.byOp {
		out[k] = v
	}
	return out
}
