package dispatch

import (
	"context"
	"fmt"

	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
)

// SequenceSource reads and advances a peer's run sequence number. Both calls return
// the number the peer will use next.
type SequenceSource interface {
	QuerySequence(ctx context.Context, ep model.PeerEndpoint) (int, error)
	AdvanceSequence(ctx context.Context, ep model.PeerEndpoint) (int, error)
}

const DefaultReconcileMaxAttempts = 32

// Reconciler brings every peer's sequence number up to the highest one reported.
type Reconciler struct {
	coord       *Coordinator
	source      SequenceSource
	maxAttempts int
	logger      *logging.Logger

	// OnAdvance, when set, is called after each successful advance of a lagging peer.
	OnAdvance func(peerIndex int)
}

func NewReconciler(coord *Coordinator, source SequenceSource, maxAttempts int, logger *logging.Logger) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultReconcileMaxAttempts
	}
	return &Reconciler{
		coord:       coord,
		source:      source,
		maxAttempts: maxAttempts,
		logger:      logger.With("reconcile"),
	}
}

// Reconcile queries all peers in parallel, then advances each lagging peer one call at a
// time until it reports the maximum. It returns the agreed number.
//
// A failed query, a failed advance, an advance that does not increase the number, one that
// overshoots the target, or more than maxAttempts advances for one peer all end the
// reconciliation with a *ReconciliationError. An abort request ends it with ErrAborted.
func (r *Reconciler) Reconcile(ctx context.Context, endpoints []model.PeerEndpoint) (int, error) {
	if len(endpoints) == 0 {
		return 0, &ReconciliationError{Peer: -1, Reason: "no peers configured"}
	}
	query := func(ctx context.Context, ep model.PeerEndpoint, _ struct{}) (int, error) {
		return r.source.QuerySequence(ctx, ep)
	}
	outcomes, err := FanOut(ctx, r.coord, "reconcile", endpoints, Repeat(struct{}{}, len(endpoints)), query)
	if err != nil {
		return 0, err
	}

	var qerr *ReconciliationError
	for _, o := range outcomes {
		if o.Succeeded() {
			continue
		}
		r.logger.Log(logging.LevelError, "query failed peer=%d: %v", o.PeerIndex, o.Err)
		if qerr == nil {
			qerr = &ReconciliationError{Phase: PhaseQuery, Peer: o.PeerIndex, Endpoint: o.Endpoint, Reason: "sequence query failed", Err: o.Err}
		}
	}
	if qerr != nil {
		return 0, qerr
	}

	target := outcomes[0].Value
	for _, o := range outcomes[1:] {
		target = max(target, o.Value)
	}
	if r.logger.Enabled(logging.LevelDebug) {
		reported := make([]int, len(outcomes))
		for i, o := range outcomes {
			reported[i] = o.Value
		}
		r.logger.Log(logging.LevelDebug, "reported=%v target=%d", reported, target)
	}

	for _, o := range outcomes {
		if o.Value == target {
			continue
		}
		if err := r.advance(ctx, o.Endpoint, o.Value, target); err != nil {
			return 0, err
		}
	}
	r.logger.Log(logging.LevelInfo, "peers agree on sequence number %d", target)
	return target, nil
}

func (r *Reconciler) advance(ctx context.Context, ep model.PeerEndpoint, current, target int) error {
	r.logger.Log(logging.LevelWarn, "peer=%d lagging sequence=%d target=%d", ep.Index, current, target)
	for attempt := 0; current < target; attempt++ {
		if attempt >= r.maxAttempts {
			return &ReconciliationError{Phase: PhaseAdvance, Peer: ep.Index, Endpoint: ep,
				Reason: fmt.Sprintf("still at %d after %d advances, target %d", current, attempt, target)}
		}
		if err := r.coord.Abort().Check(); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return &ReconciliationError{Phase: PhaseAdvance, Peer: ep.Index, Endpoint: ep, Reason: "interrupted", Err: err}
		}

		next, err := r.source.AdvanceSequence(ctx, ep)
		if err != nil {
			return &ReconciliationError{Phase: PhaseAdvance, Peer: ep.Index, Endpoint: ep, Reason: "sequence advance failed", Err: err}
		}
		if next <= current {
			return &ReconciliationError{Phase: PhaseAdvance, Peer: ep.Index, Endpoint: ep,
				Reason: fmt.Sprintf("sequence did not increase (%d -> %d)", current, next)}
		}
		if next > target {
			return &ReconciliationError{Phase: PhaseAdvance, Peer: ep.Index, Endpoint: ep,
				Reason: fmt.Sprintf("sequence overshot target %d (%d -> %d)", target, current, next)}
		}
		current = next
		if r.OnAdvance != nil {
			r.OnAdvance(ep.Index)
		}
	}
	return nil
}
