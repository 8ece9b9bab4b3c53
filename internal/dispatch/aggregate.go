package dispatch

import (
	"errors"
	"fmt"

	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// Aggregator folds per-peer outcomes into one AggregateResult.
type Aggregator struct {
	logger       *logging.Logger
	primaryIndex int
}

func NewAggregator(logger *logging.Logger, primaryIndex int) *Aggregator {
	return &Aggregator{logger: logger.With("aggregate"), primaryIndex: primaryIndex}
}

func (a *Aggregator) PrimaryIndex() int {
	return a.primaryIndex
}

// Aggregate succeeds only when every outcome succeeded. On failure the error fields come
// from the first failing outcome in peer order, and every failure is logged. On success
// Filename is artifact applied to the primary peer's value; artifact may be nil.
func Aggregate[T any](a *Aggregator, label string, outcomes []Outcome[T], failCode int, artifact func(T) string) model.AggregateResult {
	var first *Outcome[T]
	failed := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.Succeeded() {
			continue
		}
		failed++
		a.logger.Log(logging.LevelError, "%s: peer=%d host=%s port=%d failed: %v",
			label, o.Endpoint.Index, o.Endpoint.Host, o.Endpoint.Port, o.Err)
		if first == nil {
			first = o
		}
	}

	if first != nil {
		msg := fmt.Sprintf("%s failed: %v", label, first.Err)
		if failed > 1 {
			msg += fmt.Sprintf(" (%d of %d peers failed)", failed, len(outcomes))
		}
		res := model.Failure(failCode, msg)
		res.FailedPeer = first.PeerIndex
		res.PeerReturnCode = peerReturnCode(first.Err)
		return res
	}

	res := model.Success()
	if artifact != nil {
		if v, ok := Primary(a, outcomes); ok {
			res.Filename = artifact(v)
		}
	}
	return res
}

// Primary returns the primary peer's value when that peer succeeded.
func Primary[T any](a *Aggregator, outcomes []Outcome[T]) (T, bool) {
	for _, o := range outcomes {
		if o.PeerIndex == a.primaryIndex && o.Succeeded() {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}

// FromError converts an error that ended a command before aggregation into a result.
// Aborts, deadlines and reconciliation failures get their own codes; a failed
// sequence query is reported apart from a failed advance. Anything else is
// reported with failCode.
func (a *Aggregator) FromError(label string, err error, failCode int) model.AggregateResult {
	var (
		derr *DeadlineError
		rerr *ReconciliationError
		res  model.AggregateResult
	)
	switch {
	case errors.Is(err, ErrAborted):
		a.logger.Log(logging.LevelWarn, "%s: aborted", label)
		return model.Failure(model.ErrorCodeAborted, fmt.Sprintf("Command %s operation aborted.", label))
	case errors.As(err, &derr):
		res = model.Failure(model.ErrorCodeDeadline, fmt.Sprintf("%s failed: %v", label, err))
		if len(derr.Pending) > 0 {
			res.FailedPeer = derr.Pending[0]
		}
	case errors.As(err, &rerr):
		code := model.ErrorCodeReconcile
		if rerr.Phase == PhaseQuery {
			code = model.ErrorCodeSetupPeer
		}
		res = model.Failure(code, fmt.Sprintf("%s failed: %v", label, err))
		res.FailedPeer = rerr.Peer
		res.PeerReturnCode = peerReturnCode(rerr.Err)
	default:
		res = model.Failure(failCode, fmt.Sprintf("%s failed: %v", label, err))
		res.FailedPeer = peerIndex(err)
		res.PeerReturnCode = peerReturnCode(err)
	}
	a.logger.Log(logging.LevelError, "%s", res.ErrorString)
	return res
}

func peerReturnCode(err error) int {
	var pe *peer.ProtocolError
	if errors.As(err, &pe) && pe.Code != peer.ParseFailure {
		return pe.Code
	}
	return 0
}

func peerIndex(err error) int {
	var pe *peer.ProtocolError
	if errors.As(err, &pe) {
		return pe.Endpoint.Index
	}
	var ce *peer.CommunicationError
	if errors.As(err, &ce) {
		return ce.Endpoint.Index
	}
	return -1
}
