package publisher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbmetrics-agent/pkg/collector"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/metrics"
)

// Sink 命名的下游
type Sink interface {
	collector.Publisher
	Name() string
}

// Multi 扇出到多个 sink，按顺序同步调用
type Multi struct {
	sinks     []Sink
	published *prometheus.CounterVec
}

// NewMulti 创建扇出 publisher，factory 可为 nil
func NewMulti(factory *metrics.MetricFactory, sinks ...Sink) *Multi {
	m := &Multi{sinks: sinks}
	if factory != nil {
		m.published = factory.NewAgentPublishedSnapshotsTotal()
	}
	return m
}

func (m *Multi) Publish(tag string, creds credentials.Credentials, snap collector.Snapshot) {
	for _, s := range m.sinks {
		s.Publish(tag, creds, snap)
		if m.published != nil {
			m.published.WithLabelValues(s.Name(), creds.Name).Inc()
		}
	}
}

// Names sink 名称列表
func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Close 关闭持有连接的 sink
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		c, ok := s.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
