package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewDatabaseValue 数据库快照中的数值叶子节点
// metric 为扁平化后的路径，如 "connections.current"
func (m *MetricFactory) NewDatabaseValue() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbmetrics_value",
		Help: "Numeric value reported by a database status command",
	}, []string{"service", "type", "metric"})
	return m.register(g).(*prometheus.GaugeVec)
}

// NewDatabaseLastSnapshotTimestamp 最近一次快照的时间戳（unix 秒）
func (m *MetricFactory) NewDatabaseLastSnapshotTimestamp() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbmetrics_last_snapshot_timestamp_seconds",
		Help: "Unix time of the last snapshot received for a service",
	}, []string{"service", "type"})
	return m.register(g).(*prometheus.GaugeVec)
}
