package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AigcMetrics 任务与订单引擎指标
type AigcMetrics struct {
	// 调度相关指标
	JobClaimTotal   *prometheus.CounterVec // 任务认领总数（按结果）
	JobRecoverTotal prometheus.Counter     // 超时回收任务总数
	JobDispatchLag  prometheus.Histogram   // 创建到认领的延迟

	// 工作池相关指标
	JobProcessTotal    *prometheus.CounterVec   // 任务处理总数（按终态）
	JobProcessDuration prometheus.Histogram     // 任务处理耗时
	UnitResultTotal    *prometheus.CounterVec   // 单元生成结果总数（按结果）

	// 生成调用相关指标
	GenerateCallTotal    *prometheus.CounterVec // 生成调用总数（按结果）
	GenerateRetryTotal   prometheus.Counter     // 生成重试总数
	GenerateCallDuration prometheus.Histogram   // 单次生成调用耗时
	RateLimitWait        prometheus.Histogram   // 令牌等待耗时

	// 流水相关指标
	LedgerOpTotal  *prometheus.CounterVec // 流水操作总数（按类别）
	LedgerOpAmount *prometheus.CounterVec // 流水金额（按类别，最小货币单位）

	// 支付订单相关指标
	OrderTotal         *prometheus.CounterVec // 订单总数（按状态）
	OrderSettleTotal   *prometheus.CounterVec // 入账总数（按来源 webhook/poll）
	OrderExpiredTotal  prometheus.Counter     // 过期关闭订单总数
	NotifyRejectTotal  *prometheus.CounterVec // 回调拒绝总数（按原因）
	OrderSettleDuration prometheus.Histogram  // 入账事务耗时
}

// NewAigcMetrics 创建指标
func NewAigcMetrics() *AigcMetrics {
	return &AigcMetrics{
		JobClaimTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_job_claim_total",
				Help: "Total number of jobs claimed by the scheduler",
			},
			[]string{"result"}, // result: claimed/error
		),
		JobRecoverTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aigc_job_recover_total",
				Help: "Total number of stale processing jobs reset to pending",
			},
		),
		JobDispatchLag: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aigc_job_dispatch_lag_seconds",
				Help:    "Delay between job creation and scheduler claim",
				Buckets: []float64{1, 2.5, 5, 10, 30, 60, 300, 600},
			},
		),

		JobProcessTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_job_process_total",
				Help: "Total number of processed jobs",
			},
			[]string{"status"}, // status: success/partial_success/failed/skipped
		),
		JobProcessDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aigc_job_process_duration_seconds",
				Help:    "End-to-end duration of job processing",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		UnitResultTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_unit_result_total",
				Help: "Total number of per-unit generation outcomes",
			},
			[]string{"result"}, // result: success/generate_failed/upload_failed
		),

		GenerateCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_generate_call_total",
				Help: "Total number of upstream generation API calls",
			},
			[]string{"result"}, // result: success/retryable/terminal
		),
		GenerateRetryTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aigc_generate_retry_total",
				Help: "Total number of generation call retries",
			},
		),
		GenerateCallDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aigc_generate_call_duration_seconds",
				Help:    "Duration of single upstream generation calls",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		RateLimitWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aigc_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate limiter token",
				Buckets: prometheus.DefBuckets,
			},
		),

		LedgerOpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_ledger_op_total",
				Help: "Total number of ledger operations",
			},
			[]string{"category"}, // category: job_charge/job_refund/order_settlement
		),
		LedgerOpAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_ledger_op_amount_total",
				Help: "Total amount moved by ledger operations (minor units)",
			},
			[]string{"category"},
		),

		OrderTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_payment_order_total",
				Help: "Total number of payment orders",
			},
			[]string{"status"}, // status: pending/success/failed/closed
		),
		OrderSettleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_order_settle_total",
				Help: "Total number of order settlements",
			},
			[]string{"source"}, // source: webhook/poll
		),
		OrderExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aigc_order_expired_total",
				Help: "Total number of orders closed by the expiry sweep",
			},
		),
		NotifyRejectTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigc_notify_reject_total",
				Help: "Total number of rejected payment notifications",
			},
			[]string{"reason"}, // reason: signature/replay/decrypt/amount/state
		),
		OrderSettleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aigc_order_settle_duration_seconds",
				Help:    "Duration of the guarded settlement transaction",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// 全局指标实例
var defaultMetrics *AigcMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewAigcMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *AigcMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
