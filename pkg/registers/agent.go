package registers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/collector"
	"github.com/dbmetrics-agent/pkg/config"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
	"github.com/dbmetrics-agent/pkg/metrics"
	"github.com/dbmetrics-agent/pkg/poller"
)

// Agent 管理所有数据库采集器：创建、带退避重试的启动、统一关闭
type Agent struct {
	monitor   config.MonitorConfig
	registry  *poller.Registry
	publisher collector.Publisher
	factory   *metrics.MetricFactory

	mu         sync.Mutex
	collectors []Collector
	started    map[string]bool
	startErr   map[string]error
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewAgent 创建 Agent；factory 为 nil 时不注册采集器自身指标
func NewAgent(monitor config.MonitorConfig, registry *poller.Registry, publisher collector.Publisher, factory *metrics.MetricFactory) *Agent {
	return &Agent{
		monitor:   monitor,
		registry:  registry,
		publisher: publisher,
		factory:   factory,
		started:   map[string]bool{},
		startErr:  map[string]error{},
	}
}

// Register 注册采集器
func (a *Agent) Register(c Collector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collectors = append(a.collectors, c)
}

// Build 为每份凭据创建 DatabaseMetrics；不支持的数据库类型跳过
func (a *Agent) Build(creds []credentials.Credentials) error {
	opts := []collector.Option{collector.WithTag(a.monitor.Tag)}
	if a.factory != nil {
		opts = append(opts, collector.WithMetricFactory(a.factory))
	}

	built := 0
	for _, c := range creds {
		dc := collector.DatabaseCredentials{
			Credentials: c,
			Interval:    a.monitor.Interval,
			Timeout:     a.monitor.Timeout,
		}
		dm, err := collector.NewForCredentials(dc, a.registry, a.publisher, opts...)
		if err != nil {
			logger.Warn("collector not created", zap.String("service", c.Name), zap.Error(err))
			continue
		}
		a.Register(dm)
		built++
	}
	if built == 0 && len(creds) > 0 {
		return errors.New("no collector could be created from the resolved bindings")
	}
	return nil
}

// Start 异步启动所有采集器。连接失败按指数退避重试，直到成功、超时或 ctx 取消。
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	collectors := append([]Collector(nil), a.collectors...)
	a.mu.Unlock()

	logger.Info("starting database collectors",
		zap.Int("collectors", len(collectors)),
		zap.Duration("interval", a.monitor.Interval))

	for _, c := range collectors {
		a.wg.Add(1)
		go func(c Collector) {
			defer a.wg.Done()
			a.startCollector(ctx, c)
		}(c)
	}
}

func (a *Agent) startCollector(ctx context.Context, c Collector) {
	err := backoff.RetryNotify(func() error {
		err := c.GetMetrics(ctx)
		if err == nil || collector.IsConnectionError(err) {
			return err
		}
		// 非连接错误（poller 冲突等）重试无意义
		return backoff.Permanent(err)
	}, backoff.WithContext(a.newBackOff(), ctx), func(err error, d time.Duration) {
		logger.Warn("collector start failed, retrying",
			zap.String("collector", c.Name()),
			zap.Duration("sleep", d),
			zap.Error(err))
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.startErr[c.Name()] = err
		if ctx.Err() == nil {
			logger.Error("collector gave up", zap.String("collector", c.Name()), zap.Error(err))
		}
		return
	}
	a.started[c.Name()] = true
	delete(a.startErr, c.Name())
}

func (a *Agent) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.monitor.Retry.InitialInterval
	exp.MaxInterval = a.monitor.Retry.MaxInterval
	exp.MaxElapsedTime = a.monitor.Retry.MaxElapsed
	return exp
}

// Shutdown 停止重试并断开所有采集器，返回第一个错误
func (a *Agent) Shutdown(ctx context.Context) error {
	logger.Info("shutting down database collectors")

	a.mu.Lock()
	cancel := a.cancel
	collectors := append([]Collector(nil), a.collectors...)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for collectors: %w", ctx.Err())
	}

	var firstErr error
	for _, c := range collectors {
		if err := c.Disconnect(ctx); err != nil {
			logger.Error("failed to close collector", zap.String("name", c.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.registry.StopAll()
	return firstErr
}

// Statuses 所有采集器的状态，按名称排序
func (a *Agent) Statuses() []Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Status, 0, len(a.collectors))
	for _, c := range a.collectors {
		s := Status{
			Name:    c.Name(),
			State:   c.State().String(),
			Stalled: c.Stalled(),
			Started: a.started[c.Name()],
		}
		if err := c.LastError(); err != nil {
			s.LastError = err.Error()
		} else if err := a.startErr[c.Name()]; err != nil {
			s.LastError = err.Error()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy 所有采集器都已启动且没有停滞
func (a *Agent) Healthy() bool {
	for _, s := range a.Statuses() {
		if !s.Healthy() {
			return false
		}
	}
	return true
}
