package publisher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"

	"github.com/dbmetrics-agent/pkg/collector"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/metrics"
)

// Prometheus 把快照中的数值叶子节点展开为 dbmetrics_value{service,type,metric}
type Prometheus struct {
	values   *prometheus.GaugeVec
	lastSeen *prometheus.GaugeVec
	now      func() time.Time
}

// NewPrometheus 创建 Prometheus sink
func NewPrometheus(factory *metrics.MetricFactory) *Prometheus {
	return &Prometheus{
		values:   factory.NewDatabaseValue(),
		lastSeen: factory.NewDatabaseLastSnapshotTimestamp(),
		now:      time.Now,
	}
}

func (p *Prometheus) Name() string { return "prometheus" }

func (p *Prometheus) Publish(_ string, creds credentials.Credentials, snap collector.Snapshot) {
	typ := string(creds.ServiceType)
	for metric, v := range Flatten(snap) {
		p.values.WithLabelValues(creds.Name, typ, metric).Set(v)
	}
	p.lastSeen.WithLabelValues(creds.Name, typ).Set(float64(p.now().Unix()))
}

// Flatten 按 "a.b.c" 路径展开嵌套 map；字符串与无法转换为数字的值被忽略，数组按下标展开
func Flatten(snap collector.Snapshot) map[string]float64 {
	out := map[string]float64{}
	for k, v := range snap {
		flatten(out, k, v)
	}
	return out
}

func flatten(out map[string]float64, path string, v any) {
	switch val := v.(type) {
	case nil, string, []byte, time.Time:
		return
	case map[string]any:
		for k, child := range val {
			flatten(out, path+"."+k, child)
		}
	case collector.Snapshot:
		for k, child := range val {
			flatten(out, path+"."+k, child)
		}
	case []any:
		for i, child := range val {
			flatten(out, path+"."+cast.ToString(i), child)
		}
	default:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return
		}
		out[path] = f
	}
}
