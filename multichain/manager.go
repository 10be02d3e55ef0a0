package multichain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsync/syncengine/internal/metrics"
	"github.com/chainsync/syncengine/merge"
	"github.com/chainsync/syncengine/syncstore"
)

// StoreFactory builds the persistent store a chain instance should use.
// Chains commonly share one store keyed by chain ID, or each gets its own;
// the manager doesn't care which, as long as a Store comes back per ID.
type StoreFactory func(chainID string) (syncstore.Store, error)

// Manager is the entry point for running several chains' sync pipelines
// side by side and merging their output into one globally ordered event
// stream. It owns the set of registered chain instances directly (guarded
// by chainsMu) rather than delegating bookkeeping to a separate
// collaborator, since there's only ever one registry per manager and the
// instances it tracks are this package's only domain object.
type Manager struct {
	config        *ManagerConfig
	healthChecker *HealthChecker
	storeFactory  StoreFactory
	metrics       *metrics.Metrics
	logger        *zap.Logger

	chains   map[string]*ChainInstance
	chainsMu sync.RWMutex

	merger *merge.Merger

	ctx        context.Context
	cancelFunc context.CancelFunc
	runningWg  sync.WaitGroup
	mu         sync.RWMutex

	isRunning bool
}

// NewManager builds a Manager ready to have chains registered and started.
// config is validated eagerly so a misconfigured chain list fails at
// construction rather than partway through Start.
func NewManager(config *ManagerConfig, storeFactory StoreFactory, mx *metrics.Metrics, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:       config,
		chains:       make(map[string]*ChainInstance),
		storeFactory: storeFactory,
		metrics:      mx,
		logger:       logger.Named("multichain"),
	}
	m.healthChecker = NewHealthChecker(m, config.HealthCheckInterval, logger)
	return m, nil
}

// Start registers and starts every enabled chain, then builds the omnichain
// merger across all of them.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("starting multi-chain manager", zap.Int("chainCount", len(m.config.Chains)))

	// Each chain dials its own RPC endpoint and backfills independently, so
	// starting them is embarrassingly parallel; a slow or unreachable
	// endpoint for one chain shouldn't hold up the rest. Registration and
	// start errors are logged, not propagated, matching the sequential
	// loop's original continue-on-error behavior.
	g, gctx := errgroup.WithContext(m.ctx)
	for _, chainCfg := range m.config.GetEnabledChains() {
		cfg := chainCfg
		g.Go(func() error {
			if _, err := m.RegisterChain(&cfg); err != nil {
				m.logger.Error("failed to register chain", zap.String("chainId", cfg.ID), zap.Error(err))
				return nil
			}
			if err := m.StartChain(gctx, cfg.ID); err != nil {
				m.logger.Error("failed to start chain", zap.String("chainId", cfg.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m.rebuildMerger()
	m.healthChecker.Start(m.ctx)

	if m.config.AutoRestart {
		m.runningWg.Add(1)
		go m.autoRestartMonitor()
	}

	m.logger.Info("multi-chain manager started",
		zap.Int("activeChains", m.countByStatus(StatusActive)+m.countByStatus(StatusSyncing)))
	return nil
}

// Stop gracefully stops every chain and the manager's background workers.
// Chains stop concurrently since each owns an independent RPC connection
// and store handle; ctx bounds how long Stop waits for the whole fleet.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	m.logger.Info("stopping multi-chain manager")
	m.healthChecker.Stop()
	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	var g errgroup.Group
	for _, instance := range m.list() {
		instance := instance
		g.Go(func() error {
			if err := instance.Stop(ctx); err != nil {
				m.logger.Error("error stopping chain", zap.String("chainId", instance.Config.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		m.runningWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("multi-chain manager stopped gracefully")
	case <-ctx.Done():
		m.logger.Warn("multi-chain manager stop timed out")
	}
	return nil
}

// RegisterChain registers a new chain pipeline without starting it.
func (m *Manager) RegisterChain(config *ChainConfig) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}
	if m.exists(config.ID) {
		return "", ErrChainAlreadyExists
	}

	store, err := m.storeFactory(config.ID)
	if err != nil {
		return "", NewChainError(config.ID, ErrClientInitFailed, err)
	}

	instance := NewChainInstance(config, store, m.logger)
	instance.metrics = m.metrics
	if err := m.register(instance); err != nil {
		return "", err
	}
	return config.ID, nil
}

// UnregisterChain removes a chain. It must already be stopped.
func (m *Manager) UnregisterChain(ctx context.Context, chainID string) error {
	instance, err := m.get(chainID)
	if err != nil {
		return err
	}
	if instance.Status() != StatusStopped && instance.Status() != StatusRegistered {
		if err := instance.Stop(ctx); err != nil {
			return err
		}
	}
	return m.unregister(chainID)
}

// StartChain starts a previously registered chain's pipeline.
func (m *Manager) StartChain(ctx context.Context, chainID string) error {
	instance, err := m.get(chainID)
	if err != nil {
		return err
	}
	return instance.Start(ctx)
}

// StopChain stops a single chain's pipeline without removing it from the registry.
func (m *Manager) StopChain(ctx context.Context, chainID string) error {
	instance, err := m.get(chainID)
	if err != nil {
		return err
	}
	return instance.Stop(ctx)
}

// GetChain returns the registered instance for chainID, if any.
func (m *Manager) GetChain(chainID string) (*ChainInstance, error) {
	return m.get(chainID)
}

// ListChains returns read-only metadata for every registered chain.
func (m *Manager) ListChains() []*ChainInfo {
	instances := m.list()
	infos := make([]*ChainInfo, 0, len(instances))
	for _, instance := range instances {
		infos = append(infos, instance.Info())
	}
	return infos
}

// HealthCheck runs a health check against every registered chain and
// returns the results keyed by chain ID.
func (m *Manager) HealthCheck(ctx context.Context) map[string]*HealthStatus {
	instances := m.list()
	statuses := make(map[string]*HealthStatus, len(instances))
	for _, instance := range instances {
		statuses[instance.Config.ID] = instance.HealthCheck(ctx)
	}
	return statuses
}

// Counters returns the operational counters (blocks synced, events
// decoded, reorgs, RPC errors) for every registered chain.
func (m *Manager) Counters() map[string]*ChainCounters {
	instances := m.list()
	counters := make(map[string]*ChainCounters, len(instances))
	for _, instance := range instances {
		counters[instance.Config.ID] = instance.Counters()
	}
	return counters
}

// ChainCount returns the number of registered chains.
func (m *Manager) ChainCount() int { return m.count() }

// ActiveChainCount returns the number of chains currently syncing or active.
func (m *Manager) ActiveChainCount() int {
	return m.countByStatus(StatusActive) + m.countByStatus(StatusSyncing)
}

// Rounds pulls the next globally-ordered round of events across every
// registered chain, per spec.md §8's omnichain barrier merge.
func (m *Manager) Rounds(ctx context.Context) (merge.Round, bool, error) {
	m.mu.RLock()
	merger := m.merger
	m.mu.RUnlock()
	if merger == nil {
		return merge.Round{}, false, nil
	}
	return merger.Next(ctx)
}

// rebuildMerger constructs a fresh omnichain merger spanning every chain
// registered at the time it's called.
func (m *Manager) rebuildMerger() {
	instances := m.list()
	gens := make(map[uint64]merge.Generator, len(instances))
	for _, instance := range instances {
		gens[instance.Config.ChainID] = instance
	}
	merger := merge.New(m.logger, gens)
	merger.SetMetrics(m.metrics)
	m.mu.Lock()
	m.merger = merger
	m.mu.Unlock()
}

func (m *Manager) autoRestartMonitor() {
	defer m.runningWg.Done()
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAndRestartFailedChains()
		}
	}
}

func (m *Manager) checkAndRestartFailedChains() {
	for _, instance := range m.listByStatus(StatusError) {
		instance.statusMu.RLock()
		lastErrorAt := instance.lastErrorAt
		instance.statusMu.RUnlock()
		if lastErrorAt != nil && time.Since(*lastErrorAt) < m.config.AutoRestartDelay {
			continue
		}

		m.logger.Info("auto-restarting failed chain", zap.String("chainId", instance.Config.ID))

		stopCtx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		_ = instance.Stop(stopCtx)
		cancel()

		startCtx, cancel := context.WithTimeout(m.ctx, 60*time.Second)
		if err := instance.Start(startCtx); err != nil {
			m.logger.Error("failed to auto-restart chain", zap.String("chainId", instance.Config.ID), zap.Error(err))
		} else {
			m.logger.Info("chain auto-restarted successfully", zap.String("chainId", instance.Config.ID))
		}
		cancel()
	}
}

// IsEnabled reports whether this manager's configuration has any chain
// pipeline enabled.
func (m *Manager) IsEnabled() bool { return m.config.Enabled }

// WaitForSync blocks until every registered chain reports healthy or ctx
// is cancelled.
func (m *Manager) WaitForSync(ctx context.Context) error {
	return m.healthChecker.WaitForAllHealthy(ctx)
}

// register adds instance under its configured ID, failing if that ID is
// already taken.
func (m *Manager) register(instance *ChainInstance) error {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()
	if _, exists := m.chains[instance.Config.ID]; exists {
		return ErrChainAlreadyExists
	}
	m.chains[instance.Config.ID] = instance
	m.logger.Info("chain registered", zap.String("id", instance.Config.ID), zap.String("name", instance.Config.Name))
	return nil
}

// unregister removes chainID from the registered set.
func (m *Manager) unregister(chainID string) error {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()
	if _, exists := m.chains[chainID]; !exists {
		return ErrChainNotFound
	}
	delete(m.chains, chainID)
	m.logger.Info("chain unregistered", zap.String("id", chainID))
	return nil
}

// get returns the instance registered under chainID.
func (m *Manager) get(chainID string) (*ChainInstance, error) {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	instance, exists := m.chains[chainID]
	if !exists {
		return nil, ErrChainNotFound
	}
	return instance, nil
}

// list returns every registered instance in no particular order.
func (m *Manager) list() []*ChainInstance {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	instances := make([]*ChainInstance, 0, len(m.chains))
	for _, instance := range m.chains {
		instances = append(instances, instance)
	}
	return instances
}

// listByStatus returns every registered instance currently in status.
func (m *Manager) listByStatus(status ChainStatus) []*ChainInstance {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	var instances []*ChainInstance
	for _, instance := range m.chains {
		if instance.Status() == status {
			instances = append(instances, instance)
		}
	}
	return instances
}

// count returns the number of registered instances.
func (m *Manager) count() int {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	return len(m.chains)
}

// countByStatus returns the number of registered instances currently in status.
func (m *Manager) countByStatus(status ChainStatus) int {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	count := 0
	for _, instance := range m.chains {
		if instance.Status() == status {
			count++
		}
	}
	return count
}

// exists reports whether chainID is currently registered.
func (m *Manager) exists(chainID string) bool {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()
	_, exists := m.chains[chainID]
	return exists
}
