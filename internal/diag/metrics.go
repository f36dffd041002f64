package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标名称：
// - exscan_op_total{comp,stage,result}
// - exscan_error_total{comp,code}
// - exscan_op_duration_ms{comp,stage}
// - exscan_batch_progress（当前运行已完成批次占比 0..1）
// - exscan_records_extracted_total
var (
	// Registry 为进程内独立注册表，/metrics 仅暴露本注册表。
	Registry = prometheus.NewRegistry()

	opTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "exscan_op_total",
			Help: "Total number of component operations",
		},
		[]string{"comp", "stage", "result"},
	)

	errorTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "exscan_error_total",
			Help: "Total number of classified errors",
		},
		[]string{"comp", "code"},
	)

	opDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exscan_op_duration_ms",
			Help:    "Duration of component operations in milliseconds",
			Buckets: []float64{1, 5, 25, 100, 500, 1000, 5000, 15000, 60000, 120000},
		},
		[]string{"comp", "stage"},
	)

	batchProgress = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "exscan_batch_progress",
			Help: "Fraction of batches completed in the current run",
		},
	)

	recordsExtracted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "exscan_records_extracted_total",
			Help: "Total number of exercise records extracted from model responses",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// SetProgress 更新批次进度；total<=0 时归零。
func SetProgress(done, total int) {
	if total <= 0 {
		batchProgress.Set(0)
		return
	}
	batchProgress.Set(float64(done) / float64(total))
}

// AddRecords 累加抽取到的记录数。
func AddRecords(n int) {
	if n > 0 {
		recordsExtracted.Add(float64(n))
	}
}

// MetricsHandler 返回暴露 Registry 的 HTTP 处理器。
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
