package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dbmetrics-agent/pkg/logger"
	"github.com/dbmetrics-agent/pkg/metrics"
	"github.com/dbmetrics-agent/pkg/poller"
)

// State 采集器状态
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Polling
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Polling:
		return "polling"
	default:
		return "unknown"
	}
}

// Option DatabaseMetrics 可选参数
type Option func(*DatabaseMetrics)

// WithTag 发布时携带的 tag
func WithTag(tag string) Option {
	return func(d *DatabaseMetrics) { d.tag = tag }
}

// WithMetricFactory 注册采集器自身的 Prometheus 指标
func WithMetricFactory(f *metrics.MetricFactory) Option {
	return func(d *DatabaseMetrics) {
		d.collectErrors = f.NewAgentCollectErrorsTotal()
		d.collectDuration = f.NewAgentCollectDurationSeconds()
		d.stalledGauge = f.NewAgentCollectorStalled()
	}
}

// DatabaseMetrics 通用采集生命周期：connect -> poll -> map -> publish -> re-arm
type DatabaseMetrics struct {
	backend   Backend
	creds     DatabaseCredentials
	registry  *poller.Registry
	publisher Publisher
	tag       string
	name      string

	// lifecycle 串行化 GetMetrics / Disconnect
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	poller  *poller.Poller
	cancel  context.CancelFunc
	stalled bool
	lastErr error

	collectErrors   *prometheus.CounterVec
	collectDuration *prometheus.HistogramVec
	stalledGauge    *prometheus.GaugeVec
}

// New 创建采集器
func New(backend Backend, creds DatabaseCredentials, registry *poller.Registry, publisher Publisher, opts ...Option) *DatabaseMetrics {
	d := &DatabaseMetrics{
		backend:   backend,
		creds:     creds,
		registry:  registry,
		publisher: publisher,
		name:      backend.Name() + ":" + creds.Name,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name 采集器名称（backend:service）
func (d *DatabaseMetrics) Name() string { return d.name }

// Credentials 采集器使用的凭据
func (d *DatabaseMetrics) Credentials() DatabaseCredentials { return d.creds }

// GetMetrics 连接数据库并启动第一个采集周期。
// 连接失败时记录日志并返回 *ConnectionError，不做重试。正在轮询时为 no-op；
// 已停滞时丢弃旧 poller 并重新连接、重新调度。
func (d *DatabaseMetrics) GetMetrics(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if d.poller != nil && !d.stalled {
		d.mu.Unlock()
		return nil
	}
	stale, staleCancel := d.poller, d.cancel
	d.poller, d.cancel = nil, nil
	d.mu.Unlock()

	// 停滞的采集器：丢弃旧 poller，重新走 connect -> register -> start
	if stale != nil {
		stale.Stop()
		staleCancel()
		if !d.IsConnected(ctx) {
			d.closeBackend(ctx)
		}
		logger.Info("restarting stalled collector", zap.String("collector", d.name))
	}

	if err := d.Connect(ctx); err != nil {
		logger.Error("failed to connect database", zap.String("collector", d.name), zap.Error(err))
		if stale != nil {
			d.markStalled(err)
		}
		return err
	}

	p, err := d.registry.Register(d.backend.PollerID(), d.creds.Interval)
	if err != nil {
		logger.Error("failed to register poller", zap.String("collector", d.name), zap.Error(err))
		d.closeBackend(ctx)
		d.setState(Disconnected)
		return err
	}

	cycleCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.poller = p
	d.cancel = cancel
	d.stalled = false
	d.lastErr = nil
	d.mu.Unlock()
	d.setStalledGauge(0)

	p.OnPoll(func() { d.onPollMetrics(cycleCtx, p) })
	if err := p.Start(); err != nil {
		return err
	}

	logger.Info("database metrics polling started",
		zap.String("collector", d.name),
		zap.String("poller", p.ID()),
		zap.Duration("interval", d.creds.Interval))
	return nil
}

// Connect 已连接时为 no-op；失败时清理部分建立的连接
func (d *DatabaseMetrics) Connect(ctx context.Context) error {
	if d.IsConnected(ctx) {
		return nil
	}

	d.setState(Connecting)
	if err := d.backend.Connect(ctx); err != nil {
		d.closeBackend(ctx)
		d.setState(Disconnected)
		d.countError("connection")
		return &ConnectionError{Collector: d.name, Err: err}
	}
	d.setState(Connected)
	logger.Debug("database connected", zap.String("collector", d.name))
	return nil
}

// IsConnected 连接存在且后端报告健康
func (d *DatabaseMetrics) IsConnected(ctx context.Context) bool {
	return d.backend.IsConnected(ctx)
}

// Disconnect 停止 poller、取消进行中的周期并关闭连接；任意时刻调用都是安全的
func (d *DatabaseMetrics) Disconnect(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	p, cancel := d.poller, d.cancel
	d.poller, d.cancel = nil, nil
	d.state = Disconnected
	d.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if err := d.backend.Disconnect(ctx); err != nil {
		logger.Warn("failed to close database connection", zap.String("collector", d.name), zap.Error(err))
		return err
	}
	logger.Debug("database disconnected", zap.String("collector", d.name))
	return nil
}

// State 当前状态
func (d *DatabaseMetrics) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stalled 轮询是否已停止（必需命令失败或连接断开）
func (d *DatabaseMetrics) Stalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stalled
}

// LastError 导致停滞的错误
func (d *DatabaseMetrics) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// onPollMetrics 单个采集周期
func (d *DatabaseMetrics) onPollMetrics(ctx context.Context, p *poller.Poller) {
	if ctx.Err() != nil {
		return
	}
	if !d.IsConnected(ctx) {
		logger.Debug("connection lost, polling halted", zap.String("collector", d.name))
		if d.current(p) {
			d.setState(Disconnected)
			d.markStalled(errNotConnected)
		}
		return
	}

	d.setState(Polling)
	start := time.Now()
	snapshot, err := d.collect(ctx)
	if d.collectDuration != nil {
		d.collectDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.countError("cycle")
		if d.current(p) {
			d.setState(Connected)
			d.markStalled(err)
		}
		logger.Error("poll cycle failed, polling halted", zap.String("collector", d.name), zap.Error(err))
		return
	}

	d.mu.Lock()
	if d.poller != p || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	d.publisher.Publish(d.tag, d.creds.Credentials, snapshot)
	d.state = Connected
	d.mu.Unlock()

	if err := p.PollByID(); err != nil {
		logger.Debug("poller not re-armed", zap.String("collector", d.name), zap.Error(err))
	}
}

// collect 并发执行所有命令，汇总后交给 MapMetrics
func (d *DatabaseMetrics) collect(ctx context.Context) (Snapshot, error) {
	if d.creds.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.creds.Timeout)
		defer cancel()
	}

	commands := d.backend.Commands()
	results := make([]any, len(commands))
	g, gctx := errgroup.WithContext(ctx)
	for i, cmd := range commands {
		g.Go(func() error {
			res, err := cmd.Run(gctx)
			if err == nil {
				results[i] = res
				return nil
			}
			if !cmd.BestEffort {
				return &PollCycleError{Collector: d.name, Command: cmd.Name, Err: err}
			}
			if gctx.Err() == nil {
				d.countError("auxiliary")
				logger.Info("auxiliary metric skipped", zap.String("collector", d.name),
					zap.Error(&AuxiliaryMetricError{Collector: d.name, Command: cmd.Name, Err: err}))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	raw := make(RawMetrics, len(commands))
	for i, cmd := range commands {
		if results[i] != nil {
			raw[cmd.Name] = results[i]
		}
	}
	return d.backend.MapMetrics(raw), nil
}

func (d *DatabaseMetrics) closeBackend(ctx context.Context) {
	if err := d.backend.Disconnect(ctx); err != nil {
		logger.Debug("cleanup after failed connect", zap.String("collector", d.name), zap.Error(err))
	}
}

// current p 仍是本采集器当前的 poller（未被 Disconnect 或重启替换）
func (d *DatabaseMetrics) current(p *poller.Poller) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poller == p
}

func (d *DatabaseMetrics) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

func (d *DatabaseMetrics) markStalled(err error) {
	d.mu.Lock()
	d.stalled = true
	d.lastErr = err
	d.mu.Unlock()
	d.setStalledGauge(1)
}

func (d *DatabaseMetrics) setStalledGauge(v float64) {
	if d.stalledGauge != nil {
		d.stalledGauge.WithLabelValues(d.name).Set(v)
	}
}

func (d *DatabaseMetrics) countError(kind string) {
	if d.collectErrors != nil {
		d.collectErrors.WithLabelValues(d.name, kind).Inc()
	}
}

// IsConnectionError 判断是否为连接阶段错误
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
