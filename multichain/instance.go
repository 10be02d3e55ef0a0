package multichain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/internal/metrics"
	"github.com/chainsync/syncengine/merge"
	"github.com/chainsync/syncengine/realtime"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/rpcclient/rpcqueue"
	"github.com/chainsync/syncengine/syncstore"
)

// ChainInstance owns one chain's full pipeline: an RPC queue, a historical
// backfill driver, a realtime follower, and the glue that hands the
// historical driver's output straight to the realtime stream once it
// catches up to the finalized tip, so the pair together satisfy the
// merge.Generator interface the omnichain merger consumes.
type ChainInstance struct {
	Config *ChainConfig
	Store  syncstore.Store

	client *rpcclient.Client
	queue  *rpcqueue.Queue
	rpc    *queuedRPC

	historical *historical.Driver
	realtime   *realtime.Driver
	notifCh    chan realtime.Notification
	notifGen   *merge.NotificationGenerator

	historicalDone atomic.Bool

	status      ChainStatus
	statusMu    sync.RWMutex
	startedAt   *time.Time
	lastError   error
	lastErrorAt *time.Time

	blocksSynced   atomic.Uint64
	eventsDecoded  atomic.Uint64
	reorgsDetected atomic.Uint64
	rpcErrors      atomic.Uint64

	ctx        context.Context
	cancelFunc context.CancelFunc
	runningWg  sync.WaitGroup
	logger     *zap.Logger

	metrics *metrics.Metrics
}

func NewChainInstance(cfg *ChainConfig, store syncstore.Store, logger *zap.Logger) *ChainInstance {
	return &ChainInstance{
		Config: cfg,
		Store:  store,
		status: StatusRegistered,
		logger: logger.With(zap.String("chain", cfg.ID)),
	}
}

// Start dials the RPC endpoint, wires up the historical and realtime
// drivers against the shared store, seeds the realtime driver from the
// chain's current tip, and begins realtime polling in the background.
func (ci *ChainInstance) Start(ctx context.Context) error {
	ci.statusMu.Lock()
	if ci.status != StatusRegistered && ci.status != StatusStopped && ci.status != StatusError {
		ci.statusMu.Unlock()
		return ErrChainAlreadyRunning
	}
	ci.setStatusLocked(StatusStarting)
	ci.statusMu.Unlock()

	if ci.Store == nil {
		ci.setError(ErrStoreRequired)
		return ErrStoreRequired
	}

	ci.ctx, ci.cancelFunc = context.WithCancel(ctx)

	resolver := ci.Config.Resolver
	if resolver == nil {
		resolver = decode.NewStaticResolver()
	}

	ci.logger.Info("starting chain pipeline", zap.String("rpc", ci.Config.RPCEndpoint), zap.Uint64("chainId", ci.Config.ChainID))

	client, err := rpcclient.Dial(ci.ctx, rpcclient.Config{Endpoint: ci.Config.RPCEndpoint, Logger: ci.logger})
	if err != nil {
		wrapped := NewChainError(ci.Config.ID, ErrClientInitFailed, err)
		ci.setError(wrapped)
		return wrapped
	}
	ci.client = client
	ci.queue = rpcqueue.New(rpcqueue.Config{Workers: 10, Logger: ci.logger})
	ci.rpc = &queuedRPC{client: client, queue: ci.queue, chainID: ci.Config.ID, metrics: ci.metrics}

	latestNum, err := ci.rpc.LatestBlockNumber(ci.ctx)
	if err != nil {
		wrapped := NewChainError(ci.Config.ID, ErrClientInitFailed, err)
		ci.setError(wrapped)
		return wrapped
	}
	latestBlk, _, err := ci.rpc.BlockByNumber(ci.ctx, ci.Config.ChainID, latestNum)
	if err != nil {
		wrapped := NewChainError(ci.Config.ID, ErrClientInitFailed, err)
		ci.setError(wrapped)
		return wrapped
	}

	ci.realtime = realtime.New(realtime.Config{
		ChainID:            ci.Config.ChainID,
		Sources:            ci.Config.Sources,
		Store:              ci.Store,
		RPC:                ci.rpc,
		Resolver:           resolver,
		FinalityBlockCount: ci.Config.FinalityBlockCount,
		Logger:             ci.logger.Named("realtime"),
	})
	ci.realtime.Seed(latestBlk.Light())

	ci.historical = historical.New(historical.Config{
		ChainID:   ci.Config.ChainID,
		Sources:   ci.Config.Sources,
		Store:     ci.Store,
		RPC:       ci.rpc,
		Resolver:  resolver,
		PageLimit: int(ci.Config.PageLimit),
		Finalized: ci.realtime.Finalized,
		Logger:    ci.logger.Named("historical"),
	})
	if err := ci.historical.Start(ci.ctx); err != nil {
		wrapped := NewChainError(ci.Config.ID, ErrClientInitFailed, err)
		ci.setError(wrapped)
		return wrapped
	}

	ci.notifCh = make(chan realtime.Notification, 64)
	ci.notifGen = merge.NewNotificationGenerator(ci.notifCh)
	ci.notifGen.OnReorg(func(checkpoint.Checkpoint) {
		ci.reorgsDetected.Add(1)
		if ci.metrics != nil {
			ci.metrics.RealtimeReorgsTotal.WithLabelValues(ci.Config.ID).Inc()
		}
	})

	ci.runningWg.Add(1)
	go ci.runRealtime()

	now := time.Now()
	ci.startedAt = &now
	ci.setStatus(StatusSyncing)
	ci.logger.Info("chain pipeline started")
	return nil
}

func (ci *ChainInstance) runRealtime() {
	defer ci.runningWg.Done()
	defer close(ci.notifCh)
	if err := ci.realtime.Run(ci.ctx, ci.Config.PollInterval, ci.notifCh); err != nil {
		if ci.ctx.Err() == nil {
			ci.rpcErrors.Add(1)
			ci.setError(err)
			ci.logger.Error("realtime driver stopped with error", zap.Error(err))
		}
	}
}

// Next satisfies merge.Generator: it drains the historical backfill first,
// then falls through to realtime notifications once backfill is caught up
// to the finalized tip, matching the flow described in spec.md §1.
func (ci *ChainInstance) Next(ctx context.Context) (historical.Page, bool, error) {
	if !ci.historicalDone.Load() {
		page, ok, err := ci.historical.Next(ctx)
		if err != nil {
			ci.rpcErrors.Add(1)
			return historical.Page{}, false, err
		}
		if ok {
			blocks := page.BlockRange.Hi - page.BlockRange.Lo + 1
			ci.blocksSynced.Add(blocks)
			ci.eventsDecoded.Add(uint64(len(page.Events)))
			if ci.metrics != nil {
				ci.metrics.HistoricalBlocksSynced.WithLabelValues(ci.Config.ID).Add(float64(blocks))
				ci.metrics.HistoricalEventsDecoded.WithLabelValues(ci.Config.ID, "all").Add(float64(len(page.Events)))
			}
			return page, true, nil
		}
		ci.historicalDone.Store(true)
		ci.logger.Info("historical backfill caught up, switching to realtime feed")
	}
	page, ok, err := ci.notifGen.Next(ctx)
	if ok {
		ci.eventsDecoded.Add(uint64(len(page.Events)))
	}
	return page, ok, err
}

func (ci *ChainInstance) Stop(ctx context.Context) error {
	ci.statusMu.Lock()
	if ci.status == StatusStopped || ci.status == StatusStopping {
		ci.statusMu.Unlock()
		return nil
	}
	ci.setStatusLocked(StatusStopping)
	ci.statusMu.Unlock()

	ci.logger.Info("stopping chain pipeline")
	if ci.cancelFunc != nil {
		ci.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		ci.runningWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ci.logger.Info("chain pipeline stopped gracefully")
	case <-ctx.Done():
		ci.logger.Warn("chain pipeline stop timed out")
	}

	if ci.queue != nil {
		ci.queue.Close()
	}
	if ci.client != nil {
		ci.client.Close()
	}
	if ci.Store != nil {
		if err := ci.Store.Close(); err != nil {
			ci.logger.Warn("error closing store", zap.Error(err))
		}
	}

	ci.setStatus(StatusStopped)
	return nil
}

func (ci *ChainInstance) Status() ChainStatus {
	ci.statusMu.RLock()
	defer ci.statusMu.RUnlock()
	return ci.status
}

func (ci *ChainInstance) Info() *ChainInfo {
	ci.statusMu.RLock()
	defer ci.statusMu.RUnlock()
	return &ChainInfo{
		ID:          ci.Config.ID,
		Name:        ci.Config.Name,
		ChainID:     ci.Config.ChainID,
		RPCEndpoint: ci.Config.RPCEndpoint,
		Status:      ci.status,
		StartedAt:   ci.startedAt,
	}
}

func (ci *ChainInstance) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{ChainID: ci.Config.ID, Status: ci.Status(), CheckedAt: time.Now()}
	if ci.startedAt != nil {
		status.Uptime = time.Since(*ci.startedAt)
	}
	if ci.rpc != nil {
		start := time.Now()
		latest, err := ci.rpc.LatestBlockNumber(ctx)
		status.RPCLatency = time.Since(start)
		if err != nil {
			status.IsHealthy = false
			status.LastError = err.Error()
			now := time.Now()
			status.LastErrorTime = &now
		} else {
			status.LatestHeight = latest
			if finalized, ok := ci.realtime.Finalized(); ok {
				status.FinalizedHeight = finalized.Number
			}
			status.IsHealthy = status.RPCLatency < 10*time.Second

			if ci.metrics != nil {
				ci.metrics.RealtimeTipBlock.WithLabelValues(ci.Config.ID).Set(float64(status.LatestHeight))
				ci.metrics.RealtimeFinalizedBlock.WithLabelValues(ci.Config.ID).Set(float64(status.FinalizedHeight))
			}
		}
	}
	ci.statusMu.RLock()
	if ci.lastError != nil {
		status.LastError = ci.lastError.Error()
		status.LastErrorTime = ci.lastErrorAt
	}
	ci.statusMu.RUnlock()
	return status
}

func (ci *ChainInstance) Counters() *ChainCounters {
	return &ChainCounters{
		ChainID:        ci.Config.ID,
		BlocksSynced:   ci.blocksSynced.Load(),
		EventsDecoded:  ci.eventsDecoded.Load(),
		ReorgsDetected: ci.reorgsDetected.Load(),
		RPCErrors:      ci.rpcErrors.Load(),
	}
}

func (ci *ChainInstance) setStatus(status ChainStatus) {
	ci.statusMu.Lock()
	defer ci.statusMu.Unlock()
	ci.setStatusLocked(status)
}

func (ci *ChainInstance) setStatusLocked(status ChainStatus) {
	if ci.status != status {
		ci.logger.Info("status changed", zap.String("from", string(ci.status)), zap.String("to", string(status)))
		ci.status = status
	}
}

func (ci *ChainInstance) setError(err error) {
	ci.statusMu.Lock()
	defer ci.statusMu.Unlock()
	ci.lastError = err
	now := time.Now()
	ci.lastErrorAt = &now
	ci.status = StatusError
}
