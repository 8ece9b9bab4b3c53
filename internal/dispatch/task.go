package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LivTel/moptop/internal/model"
)

// CallFunc performs one blocking exchange with a peer.
type CallFunc[Req, Resp any] func(ctx context.Context, ep model.PeerEndpoint, req Req) (Resp, error)

// Outcome is the result of one peer task. Err is nil on success.
type Outcome[T any] struct {
	PeerIndex int
	Endpoint  model.PeerEndpoint
	Value     T
	Err       error
	Duration  time.Duration
}

func (o Outcome[T]) Succeeded() bool {
	return o.Err == nil
}

// Task owns one peer exchange. It never panics or returns an error to its
// starter: every failure becomes Outcome.Err.
type Task[Req, Resp any] struct {
	endpoint model.PeerEndpoint
	req      Req
	call     CallFunc[Req, Resp]

	once    sync.Once
	done    chan struct{}
	outcome Outcome[Resp]
}

func NewTask[Req, Resp any](ep model.PeerEndpoint, req Req, call CallFunc[Req, Resp]) *Task[Req, Resp] {
	return &Task[Req, Resp]{
		endpoint: ep,
		req:      req,
		call:     call,
		done:     make(chan struct{}),
	}
}

// Start runs the exchange on its own goroutine. Calling Start again is a no-op.
func (t *Task[Req, Resp]) Start(ctx context.Context) {
	t.once.Do(func() {
		go t.run(ctx)
	})
}

func (t *Task[Req, Resp]) run(ctx context.Context) {
	start := time.Now()
	t.outcome.PeerIndex = t.endpoint.Index
	t.outcome.Endpoint = t.endpoint
	defer func() {
		if r := recover(); r != nil {
			t.outcome.Err = fmt.Errorf("%s: panic during exchange: %v", t.endpoint, r)
		}
		t.outcome.Duration = time.Since(start)
		close(t.done)
	}()
	t.outcome.Value, t.outcome.Err = t.call(ctx, t.endpoint, t.req)
}

func (t *Task[Req, Resp]) Endpoint() model.PeerEndpoint {
	return t.endpoint
}

// Done is closed once the outcome is available.
func (t *Task[Req, Resp]) Done() <-chan struct{} {
	return t.done
}

func (t *Task[Req, Resp]) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Outcome returns the task's outcome; ok is false while the task is still running.
func (t *Task[Req, Resp]) Outcome() (Outcome[Resp], bool) {
	if !t.Finished() {
		return Outcome[Resp]{}, false
	}
	return t.outcome, true
}
