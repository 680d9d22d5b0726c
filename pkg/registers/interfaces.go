package registers

import (
	"context"

	"github.com/dbmetrics-agent/pkg/collector"
)

// Collector Agent 管理的采集器生命周期（*collector.DatabaseMetrics 实现了该接口）
type Collector interface {
	Name() string                         // 采集器名称（唯一标识）
	GetMetrics(ctx context.Context) error // 连接并启动轮询
	Disconnect(ctx context.Context) error // 停止轮询并释放连接
	State() collector.State
	Stalled() bool
	LastError() error
}

// Status 单个采集器的健康状态
type Status struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Stalled   bool   `json:"stalled"`
	Started   bool   `json:"started"`
	LastError string `json:"lastError,omitempty"`
}

// Healthy 已启动且未停滞
func (s Status) Healthy() bool {
	return s.Started && !s.Stalled
}
