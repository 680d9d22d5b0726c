package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewAgentCollectErrorsTotal 采集器错误总数
// 标签 collector: 采集器名称（如 "mongodb:orders-db"）
// 标签 kind: connection / cycle / auxiliary
func (m *MetricFactory) NewAgentCollectErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_collect_errors_total",
		Help: "Total collection errors",
	}, []string{"collector", "kind"})
	return m.register(c).(*prometheus.CounterVec)
}

// NewAgentCollectDurationSeconds 每个采集周期耗时（秒），使用默认分桶
func (m *MetricFactory) NewAgentCollectDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_collect_duration_seconds",
		Help:    "Collection duration per collector",
		Buckets: prometheus.DefBuckets,
	}, []string{"collector"})
	return m.register(h).(*prometheus.HistogramVec)
}

// NewAgentCollectorStalled 采集器是否已停止轮询（1 = 停滞）
// 必需命令失败或连接断开后轮询不会自动恢复，这里作为可观测的健康信号
func (m *MetricFactory) NewAgentCollectorStalled() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_collector_stalled",
		Help: "Whether the collector stopped polling (1) or is healthy (0)",
	}, []string{"collector"})
	return m.register(g).(*prometheus.GaugeVec)
}

// NewAgentPublishedSnapshotsTotal 已发布快照数
func (m *MetricFactory) NewAgentPublishedSnapshotsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_published_snapshots_total",
		Help: "Total metric snapshots handed to the sink",
	}, []string{"sink", "service"})
	return m.register(c).(*prometheus.CounterVec)
}
