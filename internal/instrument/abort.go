package instrument

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/events"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// RequestAbort sets the abort signal for the executing command, if any, and sends
// "abort" to every peer so exposures in progress stop even while the command is
// blocked in a peer exchange.
func (in *Instrument) RequestAbort(ctx context.Context) model.AggregateResult {
	running := in.CurrentCommand()
	armed := in.abort.Request()
	if armed {
		in.metrics.ObserveAbort()
		in.logger.Log(logging.LevelWarn, "ABORT: abort requested for %s", running.Upper())
		in.bus.Publish(events.EventAbortRequested, map[string]any{"command": running.Upper()})
	} else {
		in.logger.Log(logging.LevelInfo, "ABORT: no command in progress, aborting peers only")
	}

	v := in.view()
	outcomes := make([]dispatch.Outcome[string], len(v.endpoints))
	var g errgroup.Group
	for i, ep := range v.endpoints {
		g.Go(func() error {
			start := time.Now()
			payload, err := peer.Call(ctx, v.channel, ep, peer.CommandAbort)
			outcomes[i] = dispatch.Outcome[string]{
				PeerIndex: ep.Index, Endpoint: ep, Value: payload, Err: err, Duration: time.Since(start),
			}
			return err
		})
	}
	_ = g.Wait()

	res := dispatch.Aggregate(v.agg, "ABORT", outcomes, model.ErrorCodeAbortPeer, nil)
	res.Status = map[string]any{"aborted_command": string(running), "abort_delivered": armed}
	return res
}
