package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LivTel/moptop/internal/model"
)

// ErrAborted reports an operator-requested abort observed at a check point.
var ErrAborted = errors.New("operation aborted")

// DeadlineError is returned when a fan-out outlives its command's time budget.
// The pending peers keep running; their results are discarded.
type DeadlineError struct {
	Label   string
	Elapsed time.Duration
	Pending []int
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s: deadline exceeded after %s with peers %v still running",
		e.Label, e.Elapsed.Round(time.Millisecond), e.Pending)
}

func (e *DeadlineError) Unwrap() error {
	return context.DeadlineExceeded
}

// ReconcilePhase names the reconciliation step that failed.
type ReconcilePhase int

const (
	// PhaseQuery covers the parallel sequence-number query of every peer.
	PhaseQuery ReconcilePhase = iota
	// PhaseAdvance covers bringing a lagging peer up to the target.
	PhaseAdvance
)

// ReconciliationError is fatal to the run that requested the reconciliation.
// Peer is -1 when the failure is not attributable to one peer.
type ReconciliationError struct {
	Phase    ReconcilePhase
	Peer     int
	Endpoint model.PeerEndpoint
	Reason   string
	Err      error
}

func (e *ReconciliationError) Error() string {
	var msg string
	if e.Peer < 0 {
		msg = "sequence reconciliation failed: " + e.Reason
	} else {
		msg = fmt.Sprintf("sequence reconciliation failed for %s: %s", e.Endpoint, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
