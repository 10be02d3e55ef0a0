// Package e2e exercises the sync pipeline against a real Anvil node.
// These tests require Anvil to be installed and available in the PATH.
package e2e

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/e2e/anvil"
	"github.com/chainsync/syncengine/filter"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/syncstore/memstore"
)

// TestHistoricalBackfillAgainstAnvil mines a handful of blocks on a local
// Anvil instance and checks that the historical driver backfills every one
// of them through to the event store, using a block-interval source so it
// doesn't depend on any particular contract being deployed.
func TestHistoricalBackfillAgainstAnvil(t *testing.T) {
	anvil.SkipIfNoAnvil(t.Skip)

	logger := zap.NewNop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	instance := anvil.NewTestInstance(nil, logger)
	if err := instance.Start(ctx); err != nil {
		t.Fatalf("failed to start anvil: %v", err)
	}
	defer instance.Stop()

	if err := instance.MineBlocks(ctx, 5); err != nil {
		t.Fatalf("failed to mine blocks: %v", err)
	}

	client, err := rpcclient.Dial(ctx, rpcclient.Config{Endpoint: instance.RPCURL(), Logger: logger})
	if err != nil {
		t.Fatalf("failed to dial anvil: %v", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("failed to fetch chain id: %v", err)
	}

	latest, err := client.LatestBlockNumber(ctx)
	if err != nil {
		t.Fatalf("failed to fetch latest block: %v", err)
	}
	latestBlock, _, err := client.BlockByNumber(ctx, chainID, latest)
	if err != nil {
		t.Fatalf("failed to fetch latest block body: %v", err)
	}

	store := memstore.New()
	driver := historical.New(historical.Config{
		ChainID: chainID,
		Sources: []historical.Source{{
			Name:   "every-block",
			Filter: filter.BlockFilter{Common: filter.Common{ChainID: chainID}, Interval: 1},
			Decode: decode.Source{Name: "every-block", Kind: decode.SourceBlock},
		}},
		Store:     store,
		RPC:       client,
		Resolver:  decode.NewStaticResolver(),
		PageLimit: 100,
		Finalized: func() (chainrow.LightBlock, bool) { return latestBlock.Light(), true },
		Logger:    logger,
	})

	if err := driver.Start(ctx); err != nil {
		t.Fatalf("driver.Start: %v", err)
	}

	var seen uint64
	for {
		page, ok, err := driver.Next(ctx)
		if err != nil {
			t.Fatalf("driver.Next: %v", err)
		}
		if !ok {
			break
		}
		seen += page.BlockRange.Hi - page.BlockRange.Lo + 1
	}

	if seen != latest+1 {
		t.Errorf("expected to backfill %d blocks (0..%d), saw %d", latest+1, latest, seen)
	}
	if driver.Done() {
		t.Error("expected an open-ended block filter to leave the driver not done after draining all pages")
	}
}
