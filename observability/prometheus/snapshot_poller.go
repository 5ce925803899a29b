package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-engine/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ManagerSnapshotProvider provides current execution manager stats snapshots.
type ManagerSnapshotProvider interface {
	Stats() core.ManagerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports manager/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	managersMu sync.RWMutex
	managers   map[string]ManagerSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	managerPending  *prom.GaugeVec
	managerActive   *prom.GaugeVec
	managerEnded    *prom.GaugeVec
	managerRejected *prom.GaugeVec
	managerKnown    *prom.GaugeVec
	managerTags     *prom.GaugeVec
	managerShutdown *prom.GaugeVec

	poolQueued       *prom.GaugeVec
	poolActive       *prom.GaugeVec
	poolDelayed      *prom.GaugeVec
	poolWorkers      *prom.GaugeVec
	poolCompensating *prom.GaugeVec
	poolRunning      *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "taskengine"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		managers: make(map[string]ManagerSnapshotProvider),
		pools:    make(map[string]PoolSnapshotProvider),

		managerPending:  gauge("manager_pending", "Submitted tasks that have not begun, per manager.", "manager"),
		managerActive:   gauge("manager_active", "Tasks whose body is running, per manager.", "manager"),
		managerEnded:    gauge("manager_ended_total", "Ended task count snapshot by outcome.", "manager", "outcome"),
		managerRejected: gauge("manager_rejected_total", "Manager rejected task count snapshot.", "manager"),
		managerKnown:    gauge("manager_tasks", "Tasks currently registered with the manager.", "manager"),
		managerTags:     gauge("manager_tags", "Distinct tags in the manager's tag index.", "manager"),
		managerShutdown: gauge("manager_shutdown", "Manager shutdown state (1=shut down, 0=accepting).", "manager"),

		poolQueued:       gauge("pool_queued", "Queued tasks per pool.", "pool"),
		poolActive:       gauge("pool_active", "Active tasks per pool.", "pool"),
		poolDelayed:      gauge("pool_delayed", "Delayed tasks per pool.", "pool"),
		poolWorkers:      gauge("pool_workers", "Worker count per pool.", "pool"),
		poolCompensating: gauge("pool_compensating_workers", "Extra workers standing in for blocked ones, per pool.", "pool"),
		poolRunning:      gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.managerPending, &p.managerActive, &p.managerEnded, &p.managerRejected,
		&p.managerKnown, &p.managerTags, &p.managerShutdown,
		&p.poolQueued, &p.poolActive, &p.poolDelayed, &p.poolWorkers,
		&p.poolCompensating, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddManager adds or replaces a manager snapshot provider by name.
func (p *SnapshotPoller) AddManager(name string, provider ManagerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "manager")
	p.managersMu.Lock()
	p.managers[name] = provider
	p.managersMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Watch exports m and, when its pool reports stats, the pool too. Both are labelled
// with the manager's name.
func (p *SnapshotPoller) Watch(m *core.ExecutionManager) {
	if p == nil || m == nil {
		return
	}
	p.AddManager(m.Name(), m)
	if pool, ok := m.Pool().(PoolSnapshotProvider); ok {
		p.AddPool(m.Name(), pool)
	}
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.managersMu.RLock()
	for name, provider := range p.managers {
		stats := provider.Stats()
		p.managerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.managerActive.WithLabelValues(name).Set(float64(stats.Active))
		p.managerEnded.WithLabelValues(name, "succeeded").Set(float64(stats.Succeeded))
		p.managerEnded.WithLabelValues(name, "failed").Set(float64(stats.Failed))
		p.managerEnded.WithLabelValues(name, "cancelled").Set(float64(stats.Cancelled))
		p.managerRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.managerKnown.WithLabelValues(name).Set(float64(stats.Known))
		p.managerTags.WithLabelValues(name).Set(float64(stats.Tags))
		p.managerShutdown.WithLabelValues(name).Set(boolGauge(stats.Shutdown))
	}
	p.managersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolCompensating.WithLabelValues(name).Set(float64(stats.Compensating))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
