package collector

import (
	"context"
	"time"

	"github.com/dbmetrics-agent/pkg/credentials"
)

// RawMetrics 每个命令名对应的原始结果
type RawMetrics map[string]any

// Snapshot 单个周期的规范化指标：指标组名 -> 原始子文档，不做语义转换
type Snapshot map[string]any

// DatabaseCredentials 采集器输入：规范化凭据 + 运行参数
type DatabaseCredentials struct {
	credentials.Credentials
	// Interval 上一个周期结束到下一个周期开始的最小间隔
	Interval time.Duration
	// Timeout 单个周期的超时，0 表示不限制
	Timeout time.Duration
}

// Command 一次状态查询。BestEffort 的命令失败只记录日志，对应字段从快照中省略。
type Command struct {
	Name       string
	BestEffort bool
	Run        func(ctx context.Context) (any, error)
}

// Backend 数据库相关的连接、查询与字段映射；通用的周期逻辑在 DatabaseMetrics 中实现
type Backend interface {
	Name() string
	PollerID() string
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Commands() []Command
	MapMetrics(raw RawMetrics) Snapshot
	Disconnect(ctx context.Context) error
}

// Publisher 下游 sink，发后即忘
type Publisher interface {
	Publish(tag string, creds credentials.Credentials, metrics Snapshot)
}

// PublisherFunc 函数适配器
type PublisherFunc func(tag string, creds credentials.Credentials, metrics Snapshot)

func (f PublisherFunc) Publish(tag string, creds credentials.Credentials, metrics Snapshot) {
	f(tag, creds, metrics)
}
