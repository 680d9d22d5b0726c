// Package poller implements a named, self-rescheduling interval job.
//
// A Poller never re-arms on its own: the callback has to call PollByID once
// its work is done. The interval is therefore the minimum idle time between
// the end of one cycle and the start of the next, and cycles of the same id
// never overlap.
package poller

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/logger"
)

// State Poller 状态
type State int

const (
	Idle State = iota
	Scheduled
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Poller 单个命名任务
type Poller struct {
	id       string
	interval time.Duration
	registry *Registry

	mu        sync.Mutex
	state     State
	timer     *time.Timer
	gen       uint64 // 每次 arm/stop 递增，旧 timer 触发时据此丢弃
	callback  func()
	cycles    uint64
	lastStart time.Time
}

// ID 返回 poller id
func (p *Poller) ID() string { return p.id }

// Interval 返回采集间隔
func (p *Poller) Interval() time.Duration { return p.interval }

// OnPoll 设置每个周期调用的回调，重复调用会替换旧回调
func (p *Poller) OnPoll(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

// Start Idle -> Scheduled
func (p *Poller) Start() error {
	return p.PollByID()
}

// PollByID 安排下一个周期：interval 之后进入 Running 并调用回调。
// 已处于 Scheduled 时为 no-op。
func (p *Poller) PollByID() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Stopped:
		return ErrPollerStopped
	case Scheduled:
		return nil
	}

	p.gen++
	gen := p.gen
	p.state = Scheduled
	p.timer = time.AfterFunc(p.interval, func() { p.fire(gen) })
	return nil
}

func (p *Poller) fire(gen uint64) {
	p.mu.Lock()
	if p.state != Scheduled || p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.state = Running
	p.timer = nil
	p.cycles++
	p.lastStart = time.Now()
	callback := p.callback
	p.mu.Unlock()

	if callback == nil {
		logger.Warn("poller fired without callback", zap.String("poller", p.id))
		return
	}
	callback()
}

// Stop 取消已安排的 timer 并从 registry 移除，幂等
func (p *Poller) Stop() {
	if p.registry != nil {
		p.registry.remove(p)
	}
	p.stop()
}

func (p *Poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.state = Stopped
}

// State 当前状态
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cycles 已开始的周期数
func (p *Poller) Cycles() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// LastStart 最近一次周期的开始时间
func (p *Poller) LastStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStart
}

// Status 用于健康检查输出
type Status struct {
	ID        string        `json:"id"`
	Interval  time.Duration `json:"interval"`
	State     string        `json:"state"`
	Cycles    uint64        `json:"cycles"`
	LastStart time.Time     `json:"lastStart,omitempty"`
}

func (p *Poller) status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		ID:        p.id,
		Interval:  p.interval,
		State:     p.state.String(),
		Cycles:    p.cycles,
		LastStart: p.lastStart,
	}
}
