package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/binding"
	"github.com/dbmetrics-agent/pkg/config"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
	"github.com/dbmetrics-agent/pkg/metrics"
	"github.com/dbmetrics-agent/pkg/poller"
	"github.com/dbmetrics-agent/pkg/publisher"
	"github.com/dbmetrics-agent/pkg/registers"
	"github.com/dbmetrics-agent/pkg/server"
	"github.com/dbmetrics-agent/pkg/signal"
	"github.com/dbmetrics-agent/pkg/util"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, cfg *config.Config) error {
	util.PrintBanner(os.Stdout, "dbmetrics", "cyan", Version)

	// 初始化日志
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	bindings, err := loadBindings(cfg.Binding)
	if err != nil {
		return err
	}
	creds, skipped := binding.Resolve(bindings)
	logger.Info("service bindings resolved",
		zap.Int("bindings", len(bindings)),
		zap.Int("collectors", len(creds)),
		zap.Int("skipped", len(skipped)))

	// Prometheus 注册器：进程指标 + 采集器指标
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(promRegistry))

	sinks, err := buildSinks(cfg.Sink, factory)
	if err != nil {
		return err
	}
	fanout := publisher.NewMulti(factory, sinks...)
	logger.Info("sinks enabled", zap.Strings("sinks", fanout.Names()))

	pollers := poller.NewRegistry()
	agent := registers.NewAgent(cfg.Monitor, pollers, fanout, factory)
	if err := agent.Build(creds); err != nil {
		_ = fanout.Close()
		return err
	}

	httpServer := server.NewHTTPServer(cfg.Server, promRegistry, agent, pollers)
	if err := httpServer.Start(); err != nil {
		_ = fanout.Close()
		return fmt.Errorf("start HTTP server failed: %w", err)
	}

	agent.Start(ctx)

	// 关闭顺序：HTTP服务 -> 采集器 -> sink
	return signal.WaitForShutdown(ctx, shutdownTimeout, func(ctx context.Context) error {
		return errors.Join(
			httpServer.Shutdown(),
			agent.Shutdown(ctx),
			fanout.Close(),
		)
	})
}

func loadBindings(cfg config.BindingConfig) ([]credentials.ServiceBinding, error) {
	if cfg.File != "" {
		return binding.LoadFile(cfg.File)
	}
	return binding.Load()
}

func buildSinks(cfg config.SinkConfig, factory *metrics.MetricFactory) ([]publisher.Sink, error) {
	sinks := make([]publisher.Sink, 0, len(cfg.Types))
	for _, t := range cfg.Types {
		switch t {
		case "log":
			sinks = append(sinks, publisher.NewLog())
		case "prometheus":
			sinks = append(sinks, publisher.NewPrometheus(factory))
		case "nats":
			n, err := publisher.NewNATS(cfg.NATS)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, n)
		default:
			return nil, fmt.Errorf("unknown sink %q", t)
		}
	}
	return sinks, nil
}
