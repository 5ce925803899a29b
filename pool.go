package taskengine

import (
	"context"
	"sync"

	"github.com/Swind/go-task-engine/config"
	"github.com/Swind/go-task-engine/core"
)

// NewManager creates and starts an execution manager backed by a FIFO pool of workers.
func NewManager(name string, workers int, opts ...ManagerOption) *ExecutionManager {
	pool := core.NewGoroutineThreadPool(name, workers)
	return startManager(pool, name, opts)
}

// NewPriorityManager creates and starts an execution manager whose pool runs
// higher-priority task bodies first.
func NewPriorityManager(name string, workers int, opts ...ManagerOption) *ExecutionManager {
	pool := core.NewPriorityGoroutineThreadPool(name, workers)
	return startManager(pool, name, opts)
}

// NewManagerFromConfig creates and starts an execution manager from loaded settings.
// Options passed here are applied after the ones derived from cfg.
func NewManagerFromConfig(cfg *config.Config, opts ...ManagerOption) (*ExecutionManager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var pool *core.GoroutineThreadPool
	if cfg.PriorityQueue {
		pool = core.NewPriorityGoroutineThreadPool(cfg.Name, cfg.Workers)
	} else {
		pool = core.NewGoroutineThreadPool(cfg.Name, cfg.Workers)
	}

	logger := core.NewDefaultLogger()
	logger.Logrus().SetLevel(core.ParseLogLevel(cfg.LogLevel))

	base := []ManagerOption{
		core.WithLogger(logger),
		core.WithHistoryCapacity(cfg.HistoryCapacity),
	}
	return startManager(pool, cfg.Name, append(base, opts...)), nil
}

func startManager(pool core.ThreadPool, name string, opts []ManagerOption) *ExecutionManager {
	opts = append([]ManagerOption{core.WithManagerName(name)}, opts...)
	m := core.NewExecutionManager(pool, opts...)
	m.Start(context.Background())
	return m
}

// =============================================================================
// Global Execution Manager Helper (Singleton)
// =============================================================================

var (
	globalManager *ExecutionManager
	globalMu      sync.Mutex
)

// InitGlobalManager initializes the global execution manager with the specified number
// of workers. It starts the manager immediately. Later calls are no-ops until
// ShutdownGlobalManager.
func InitGlobalManager(workers int, opts ...ManagerOption) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		return // Already initialized
	}

	globalManager = NewManager("global", workers, opts...)
}

// GetGlobalManager returns the global execution manager instance.
// It panics if InitGlobalManager has not been called.
func GetGlobalManager() *ExecutionManager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("global execution manager not initialized. Call InitGlobalManager() first.")
	}
	return globalManager
}

// ShutdownGlobalManager cancels everything still running on the global manager and
// stops it.
func ShutdownGlobalManager() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		globalManager.ShutdownNow()
		globalManager = nil
	}
}

// Submit submits task to the global execution manager.
func Submit(ctx context.Context, task Task, tags ...Tag) (Task, error) {
	return GetGlobalManager().Submit(ctx, task, tags...)
}

// SubmitFunc wraps body in a task and submits it to the global execution manager.
func SubmitFunc(ctx context.Context, body TaskFunc, opts ...TaskOption) (Task, error) {
	return GetGlobalManager().SubmitFunc(ctx, body, opts...)
}
