package poller

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/logger"
)

// Registry 进程内 Poller 注册表，同一 id 同时只能存在一个活跃 Poller
type Registry struct {
	mu      sync.Mutex
	pollers map[string]*Poller
}

// NewRegistry 创建注册表（由 agent 持有，测试可独立创建）
func NewRegistry() *Registry {
	return &Registry{pollers: make(map[string]*Poller)}
}

// Register 创建 Idle 状态的 Poller
func (r *Registry) Register(id string, interval time.Duration) (*Poller, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pollers[id]; ok {
		return nil, &DuplicatePollerError{ID: id}
	}

	p := &Poller{id: id, interval: interval, registry: r, state: Idle}
	r.pollers[id] = p
	logger.Debug("poller registered", zap.String("poller", id), zap.Duration("interval", interval))
	return p, nil
}

// Get 按 id 查找
func (r *Registry) Get(id string) (*Poller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pollers[id]
	return p, ok
}

// PollByID 按 id 安排下一个周期
func (r *Registry) PollByID(id string) error {
	p, ok := r.Get(id)
	if !ok {
		return ErrPollerNotFound
	}
	return p.PollByID()
}

// Stop 停止并移除，未知 id 为 no-op
func (r *Registry) Stop(id string) {
	p, ok := r.Get(id)
	if !ok {
		return
	}
	p.Stop()
	logger.Debug("poller stopped", zap.String("poller", id))
}

// StopAll 停止所有 Poller
func (r *Registry) StopAll() {
	r.mu.Lock()
	pollers := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.pollers = make(map[string]*Poller)
	r.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
}

// Snapshot 返回按 id 排序的状态列表
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	pollers := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, p.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remove 仅当注册表中仍是同一个实例时才删除
func (r *Registry) remove(p *Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pollers[p.id]; ok && cur == p {
		delete(r.pollers, p.id)
	}
}
