package merge

import (
	"context"
	"fmt"

	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/realtime"
)

// NotificationGenerator adapts a realtime driver's push-based notification
// channel onto the pull-based Generator interface the merger consumes, so a
// chain can hand off from historical to realtime without the merger caring
// which one is feeding it.
type NotificationGenerator struct {
	in      <-chan realtime.Notification
	onReorg func(safe checkpoint.Checkpoint)
}

// NewNotificationGenerator wraps a realtime notification channel. The
// channel must be closed by its producer once the driver stops. Ingest
// notifications become pages; a reorg notification is handed to the
// OnReorg callback and skipped, since the merger has no use for a bare
// checkpoint rewind; a fatal notification is returned as an error.
func NewNotificationGenerator(in <-chan realtime.Notification) *NotificationGenerator {
	return &NotificationGenerator{in: in}
}

// OnReorg registers a callback invoked whenever a reorg notification passes
// through, so a caller can track reorg counts without the merger itself
// needing a rewind mechanism.
func (g *NotificationGenerator) OnReorg(fn func(safe checkpoint.Checkpoint)) {
	g.onReorg = fn
}

func (g *NotificationGenerator) Next(ctx context.Context) (historical.Page, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return historical.Page{}, false, ctx.Err()
		case n, ok := <-g.in:
			if !ok {
				return historical.Page{}, false, nil
			}
			switch n.Kind {
			case realtime.EventIngest:
				return n.Page, true, nil
			case realtime.EventReorg:
				// A reorg invalidates whatever this chain has already
				// handed the merger up to n.SafeCheckpoint; the merger
				// itself has no rewind mechanism, so the caller orchestrating
				// per-chain pipelines is responsible for restarting this
				// chain's merge input at the safe checkpoint.
				if g.onReorg != nil {
					g.onReorg(n.SafeCheckpoint)
				}
				continue
			case realtime.EventFatal:
				return historical.Page{}, false, fmt.Errorf("merge: chain notification stream failed: %w", n.Err)
			default:
				continue
			}
		}
	}
}
