package publisher

import (
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/collector"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
)

// Log 将快照以 debug 级别写入日志
type Log struct{}

// NewLog 创建日志 sink
func NewLog() *Log { return &Log{} }

func (l *Log) Name() string { return "log" }

func (l *Log) Publish(tag string, creds credentials.Credentials, metrics collector.Snapshot) {
	logger.Debug("database metrics",
		zap.String("tag", tag),
		zap.String("service", creds.Name),
		zap.String("type", string(creds.ServiceType)),
		zap.Any("metrics", metrics),
	)
}
