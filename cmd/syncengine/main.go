package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/chainsync/syncengine/internal/config"
	"github.com/chainsync/syncengine/internal/logger"
	"github.com/chainsync/syncengine/internal/metrics"
	"github.com/chainsync/syncengine/multichain"
	"github.com/chainsync/syncengine/syncstore"
	"github.com/chainsync/syncengine/syncstore/pebblestore"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.App{
		Name:    "syncengine",
		Usage:   "runs the multichain historical and realtime sync pipeline",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to configuration file (YAML)"},
			&cli.StringFlag{Name: "log-level", Usage: "override the configured log level"},
			&cli.StringFlag{Name: "log-format", Usage: "override the configured log format"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "syncengine: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if logFormat := c.String("log-format"); logFormat != "" {
		cfg.Log.Format = logFormat
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting syncengine",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("chains", len(cfg.MultiChain.Chains)),
	)

	var mx *metrics.Metrics
	if cfg.Metrics.Enabled {
		mx = metrics.New(cfg.Metrics.Namespace)
	}

	storeFactory := pebbleStoreFactory(cfg.Database, log)

	managerCfg := cfg.MultiChain.ToManagerConfig()
	manager, err := multichain.NewManager(managerCfg, storeFactory, mx, log)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	roundsDone := make(chan struct{})
	go logRounds(ctx, manager, log, roundsDone)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()
	<-roundsDone

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := manager.Stop(stopCtx); err != nil {
		log.Error("manager stopped with error", zap.Error(err))
	}

	log.Info("syncengine stopped")
	return nil
}

// logRounds drains the manager's globally-ordered merge rounds for the
// lifetime of ctx. Acting on the decoded events themselves is the embedding
// application's job; this loop only demonstrates that Rounds is alive and
// keeps it drained so chain pipelines never block on a full buffer.
func logRounds(ctx context.Context, manager *multichain.Manager, log *zap.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		round, ok, err := manager.Rounds(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("merge round failed", zap.Error(err))
			}
			return
		}
		if !ok {
			return
		}
		if len(round.Events) > 0 {
			log.Debug("merge round", zap.Int("events", len(round.Events)), zap.Int("markers", len(round.Markers)))
		}
	}
}

func pebbleStoreFactory(dbCfg config.DatabaseConfig, log *zap.Logger) multichain.StoreFactory {
	return func(chainID string) (syncstore.Store, error) {
		path := filepath.Join(dbCfg.Path, chainID)
		store, err := pebblestore.Open(pebblestore.Config{
			Path:          path,
			ReadOnly:      dbCfg.ReadOnly,
			CacheMB:       dbCfg.CacheMB,
			MaxOpenFiles:  dbCfg.MaxOpenFiles,
			WriteBufferMB: dbCfg.WriteBufferMB,
		}, log.Named("store").With(zap.String("chain", chainID)))
		if err != nil {
			return nil, fmt.Errorf("open store for chain %s: %w", chainID, err)
		}
		return store, nil
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Format == "console" {
		return logger.NewWithConfig(&logger.Config{
			Level:       cfg.Level,
			Encoding:    "console",
			Development: true,
		})
	}
	return logger.NewWithConfig(&logger.Config{
		Level:    cfg.Level,
		Encoding: "json",
	})
}
