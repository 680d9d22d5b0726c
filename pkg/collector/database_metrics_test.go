package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
	"github.com/dbmetrics-agent/pkg/metrics"
	"github.com/dbmetrics-agent/pkg/poller"
)

const testInterval = 10 * time.Millisecond

type fakeBackend struct {
	name       string
	connectErr error
	commands   []Command

	mu          sync.Mutex
	connected   bool
	disconnects int
}

func (f *fakeBackend) Name() string     { return "fake" }
func (f *fakeBackend) PollerID() string { return "fake/" + f.name }

func (f *fakeBackend) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.setConnected(true)
	return nil
}

func (f *fakeBackend) IsConnected(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBackend) Commands() []Command { return f.commands }

func (f *fakeBackend) MapMetrics(raw RawMetrics) Snapshot {
	out := Snapshot{}
	for k, v := range raw {
		out[k] = v
	}
	return out
}

func (f *fakeBackend) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeBackend) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeBackend) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type recordingPublisher struct {
	mu        sync.Mutex
	tags      []string
	snapshots []Snapshot
}

func (p *recordingPublisher) Publish(tag string, _ credentials.Credentials, metrics Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tag)
	p.snapshots = append(p.snapshots, metrics)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

func (p *recordingPublisher) firstTag() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tags[0]
}

func (p *recordingPublisher) first() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[0]
}

func okCmd(name string, value any) Command {
	return Command{Name: name, Run: func(context.Context) (any, error) { return value, nil }}
}

func failing(name string, bestEffort bool) Command {
	return Command{Name: name, BestEffort: bestEffort, Run: func(context.Context) (any, error) {
		return nil, errors.New(name + " failed")
	}}
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger.SetGlobalLogger(zap.New(core))
	t.Cleanup(func() { logger.SetGlobalLogger(zap.NewNop()) })
	return logs
}

func newTestCollector(b *fakeBackend, pub Publisher, opts ...Option) (*DatabaseMetrics, *poller.Registry) {
	reg := poller.NewRegistry()
	creds := DatabaseCredentials{
		Credentials: credentials.Credentials{ServiceType: credentials.Document, Name: b.name},
		Interval:    testInterval,
	}
	return New(b, creds, reg, pub, opts...), reg
}

func TestGetMetricsPublishesAndRearms(t *testing.T) {
	b := &fakeBackend{name: "orders", commands: []Command{
		okCmd("serverStatus", map[string]any{"connections": 3}),
		okCmd("dbStats", map[string]any{"objects": 10}),
	}}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub, WithTag("prod"))

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 3 }, time.Second, time.Millisecond)

	snap := pub.first()
	assert.Equal(t, map[string]any{"connections": 3}, snap["serverStatus"])
	assert.Equal(t, map[string]any{"objects": 10}, snap["dbStats"])
	assert.Equal(t, "prod", pub.firstTag())
	assert.False(t, d.Stalled())

	_, registered := reg.Get("fake/orders")
	assert.True(t, registered)

	require.NoError(t, d.Disconnect(context.Background()))
	n := pub.count()
	time.Sleep(3 * testInterval)
	assert.Equal(t, n, pub.count(), "publish after disconnect")
	assert.Equal(t, Disconnected, d.State())
	assert.Empty(t, reg.Snapshot())

	// 重复 Disconnect 是安全的
	assert.NoError(t, d.Disconnect(context.Background()))
}

func TestGetMetricsConnectionFailure(t *testing.T) {
	logs := observeLogs(t)
	b := &fakeBackend{name: "orders", connectErr: errors.New("connection refused")}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub)

	err := d.GetMetrics(context.Background())
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, "fake:orders", ce.Collector)

	assert.Equal(t, Disconnected, d.State())
	assert.Equal(t, 1, b.disconnectCount(), "partial connection not torn down")
	assert.Empty(t, reg.Snapshot())
	assert.Equal(t, 1, logs.FilterMessage("failed to connect database").Len())

	time.Sleep(3 * testInterval)
	assert.Zero(t, pub.count())
}

func TestMandatoryCommandFailureHaltsPolling(t *testing.T) {
	logs := observeLogs(t)
	b := &fakeBackend{name: "orders", commands: []Command{
		failing("serverStatus", false),
		okCmd("dbStats", map[string]any{}),
	}}
	pub := &recordingPublisher{}
	reg := prometheus.NewRegistry()
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(reg))
	d, pollers := newTestCollector(b, pub, WithMetricFactory(factory))

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)
	time.Sleep(5 * testInterval)

	assert.Zero(t, pub.count())
	assert.Equal(t, 1, logs.FilterMessage("poll cycle failed, polling halted").Len())

	var pce *PollCycleError
	require.True(t, errors.As(d.LastError(), &pce))
	assert.Equal(t, "serverStatus", pce.Command)

	p, found := pollers.Get("fake/orders")
	require.True(t, found)
	assert.Equal(t, poller.Running, p.State())
	assert.Equal(t, uint64(1), p.Cycles())

	assert.Equal(t, 1.0, testutil.ToFloat64(factory.NewAgentCollectErrorsTotal().WithLabelValues("fake:orders", "cycle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(factory.NewAgentCollectorStalled().WithLabelValues("fake:orders")))
}

func TestAuxiliaryFailureOmitsField(t *testing.T) {
	logs := observeLogs(t)
	b := &fakeBackend{name: "orders", commands: []Command{
		okCmd("serverStatus", map[string]any{"connections": 1}),
		failing("replicationSetStatus", true),
	}}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, time.Millisecond)

	snap := pub.first()
	assert.Contains(t, snap, "serverStatus")
	assert.NotContains(t, snap, "replicationSetStatus")

	// 下一个周期正常调度
	require.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, d.Stalled())

	aux := logs.FilterMessage("auxiliary metric skipped").All()
	require.NotEmpty(t, aux)
	assert.Equal(t, zap.InfoLevel, aux[0].Level)

	p, _ := reg.Get("fake/orders")
	assert.GreaterOrEqual(t, p.Cycles(), uint64(2))
	require.NoError(t, d.Disconnect(context.Background()))
}

func TestConnectionDropHaltsPolling(t *testing.T) {
	b := &fakeBackend{name: "orders", commands: []Command{okCmd("serverStatus", 1)}}
	pub := &recordingPublisher{}
	d, _ := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, time.Millisecond)

	b.setConnected(false)
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)
	n := pub.count()
	time.Sleep(5 * testInterval)
	assert.Equal(t, n, pub.count())
	assert.ErrorIs(t, d.LastError(), errNotConnected)
	assert.Equal(t, Disconnected, d.State())
}

func TestGetMetricsRecoversAfterConnectionDrop(t *testing.T) {
	b := &fakeBackend{name: "orders", commands: []Command{okCmd("serverStatus", 1)}}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, time.Millisecond)

	b.setConnected(false)
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)
	n := pub.count()

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= n+2 }, time.Second, time.Millisecond)
	assert.False(t, d.Stalled())
	assert.NoError(t, d.LastError())
	assert.True(t, d.IsConnected(context.Background()))
	assert.Len(t, reg.Snapshot(), 1)

	require.NoError(t, d.Disconnect(context.Background()))
}

func TestGetMetricsRecoversAfterCycleFailure(t *testing.T) {
	var calls atomic.Int32
	flaky := Command{Name: "serverStatus", Run: func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("serverStatus failed")
		}
		return 1, nil
	}}
	b := &fakeBackend{name: "orders", commands: []Command{flaky}}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)
	assert.Equal(t, Connected, d.State())
	assert.Zero(t, pub.count())

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, d.Stalled())
	assert.Zero(t, b.disconnectCount(), "live connection reused")

	p, found := reg.Get("fake/orders")
	require.True(t, found)
	assert.GreaterOrEqual(t, p.Cycles(), uint64(2))

	require.NoError(t, d.Disconnect(context.Background()))
}

func TestGetMetricsRecoveryConnectFailureKeepsStall(t *testing.T) {
	b := &fakeBackend{name: "orders", commands: []Command{okCmd("serverStatus", 1)}}
	d, reg := newTestCollector(b, &recordingPublisher{})

	require.NoError(t, d.GetMetrics(context.Background()))
	b.setConnected(false)
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)

	b.connectErr = errors.New("connection refused")
	err := d.GetMetrics(context.Background())
	assert.True(t, IsConnectionError(err))
	assert.True(t, d.Stalled())
	assert.True(t, IsConnectionError(d.LastError()))
	assert.Equal(t, Disconnected, d.State())
	assert.Empty(t, reg.Snapshot())
}

func TestDuplicatePollerID(t *testing.T) {
	reg := poller.NewRegistry()
	pub := &recordingPublisher{}
	creds := DatabaseCredentials{Credentials: credentials.Credentials{Name: "orders"}, Interval: testInterval}

	first := &fakeBackend{name: "orders", commands: []Command{okCmd("a", 1)}}
	second := &fakeBackend{name: "orders", commands: []Command{okCmd("a", 1)}}
	d1 := New(first, creds, reg, pub)
	d2 := New(second, creds, reg, pub)

	require.NoError(t, d1.GetMetrics(context.Background()))
	err := d2.GetMetrics(context.Background())
	var dup *poller.DuplicatePollerError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, 1, second.disconnectCount())
	assert.Equal(t, Disconnected, d2.State())

	require.NoError(t, d1.Disconnect(context.Background()))
}

func TestGetMetricsTwiceIsNoop(t *testing.T) {
	b := &fakeBackend{name: "orders", commands: []Command{okCmd("a", 1)}}
	d, reg := newTestCollector(b, &recordingPublisher{})

	require.NoError(t, d.GetMetrics(context.Background()))
	require.NoError(t, d.GetMetrics(context.Background()))
	assert.Len(t, reg.Snapshot(), 1)
	require.NoError(t, d.Disconnect(context.Background()))
}

func TestCommandsRunConcurrently(t *testing.T) {
	var started atomic.Int32
	both := make(chan struct{})
	barrier := func(name string) Command {
		return Command{Name: name, Run: func(ctx context.Context) (any, error) {
			if started.Add(1) == 2 {
				close(both)
			}
			select {
			case <-both:
				return name, nil
			case <-time.After(time.Second):
				return nil, errors.New("commands were not issued concurrently")
			}
		}}
	}
	b := &fakeBackend{name: "orders", commands: []Command{barrier("a"), barrier("b")}}
	pub := &recordingPublisher{}
	d, _ := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Snapshot{"a": "a", "b": "b"}, pub.first())
	require.NoError(t, d.Disconnect(context.Background()))
}

func TestDisconnectMidCycle(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	blocking := Command{Name: "slow", Run: func(ctx context.Context) (any, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := &fakeBackend{name: "orders", commands: []Command{blocking}}
	pub := &recordingPublisher{}
	d, reg := newTestCollector(b, pub)

	require.NoError(t, d.GetMetrics(context.Background()))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("cycle did not start")
	}

	require.NoError(t, d.Disconnect(context.Background()))
	time.Sleep(3 * testInterval)
	assert.Zero(t, pub.count())
	assert.False(t, d.Stalled(), "cancelled cycle must not be reported as stalled")
	assert.Empty(t, reg.Snapshot())
}

func TestCycleTimeout(t *testing.T) {
	hang := Command{Name: "hang", Run: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := &fakeBackend{name: "orders", commands: []Command{hang}}
	reg := poller.NewRegistry()
	creds := DatabaseCredentials{
		Credentials: credentials.Credentials{Name: "orders"},
		Interval:    testInterval,
		Timeout:     20 * time.Millisecond,
	}
	d := New(b, creds, reg, &recordingPublisher{})

	require.NoError(t, d.GetMetrics(context.Background()))
	require.Eventually(t, d.Stalled, time.Second, time.Millisecond)
	assert.ErrorIs(t, d.LastError(), context.DeadlineExceeded)
	require.NoError(t, d.Disconnect(context.Background()))
}

func TestNewForCredentials(t *testing.T) {
	reg := poller.NewRegistry()
	pub := &recordingPublisher{}

	mongo, err := NewForCredentials(DatabaseCredentials{
		Credentials: credentials.Credentials{ServiceType: credentials.Document, Name: "m", URI: "mongodb://h/db"},
		Interval:    time.Second,
	}, reg, pub)
	require.NoError(t, err)
	assert.Equal(t, "mongodb:m", mongo.Name())

	redis, err := NewForCredentials(DatabaseCredentials{
		Credentials: credentials.Credentials{ServiceType: credentials.KeyValue, Name: "r", Host: "h"},
		Interval:    time.Second,
	}, reg, pub)
	require.NoError(t, err)
	assert.Equal(t, "redis:r", redis.Name())

	_, err = NewForCredentials(DatabaseCredentials{
		Credentials: credentials.Credentials{ServiceType: "graph", Name: "g"},
	}, reg, pub)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}
