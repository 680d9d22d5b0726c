package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricFactory 指标工厂。所有 NewXxx 构造函数经 register 注册：
// 同名指标只注册一次，多个采集器拿到的是同一个实例。
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// register 注册指标；已注册时返回已有实例，其余注册错误（如标签不一致）直接 panic
func (m *MetricFactory) register(c prometheus.Collector) prometheus.Collector {
	err := m.reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	panic(err)
}
