package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
)

// Coordinator runs one task per peer and waits for all of them, observing the
// abort signal and the context deadline while it waits.
type Coordinator struct {
	abort        *AbortSignal
	pollInterval time.Duration
	logger       *logging.Logger
}

func NewCoordinator(abort *AbortSignal, pollInterval time.Duration, logger *logging.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Coordinator{
		abort:        abort,
		pollInterval: pollInterval,
		logger:       logger.With("dispatch"),
	}
}

func (c *Coordinator) Abort() *AbortSignal {
	return c.abort
}

// Repeat builds the request list for a fan-out that sends the same request to n peers.
func Repeat[Req any](req Req, n int) []Req {
	reqs := make([]Req, n)
	for i := range reqs {
		reqs[i] = req
	}
	return reqs
}

// FanOut starts one task per endpoint and blocks until every task has finished.
// Outcomes are returned in endpoint order regardless of completion order.
//
// An abort request makes FanOut return ErrAborted and a ctx deadline makes it return
// a *DeadlineError, both without waiting for the running tasks. Those tasks run on a
// context detached from ctx, so their exchanges complete and their results are dropped.
func FanOut[Req, Resp any](ctx context.Context, c *Coordinator, label string, endpoints []model.PeerEndpoint, reqs []Req, call CallFunc[Req, Resp]) ([]Outcome[Resp], error) {
	if len(reqs) != len(endpoints) {
		return nil, fmt.Errorf("%s: %d requests for %d peers", label, len(reqs), len(endpoints))
	}
	if err := c.abort.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	start := time.Now()
	taskCtx := context.WithoutCancel(ctx)
	tasks := make([]*Task[Req, Resp], len(endpoints))
	for i, ep := range endpoints {
		tasks[i] = NewTask(ep, reqs[i], call)
	}
	for _, t := range tasks {
		t.Start(taskCtx)
	}
	c.logger.Log(logging.LevelDebug, "%s: started peers=%d", label, len(tasks))

	finished := make(chan int, len(tasks))
	for i, t := range tasks {
		go func() {
			<-t.Done()
			finished <- i
		}()
	}

	var abortCh <-chan struct{}
	if c.abort != nil {
		abortCh = c.abort.Done()
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	remaining := len(tasks)
	for remaining > 0 {
		select {
		case <-finished:
			remaining--
		case <-abortCh:
			c.logger.Log(logging.LevelWarn, "%s: abort requested, not waiting for peers %v", label, pending(tasks))
			return nil, fmt.Errorf("%s: %w", label, ErrAborted)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				derr := &DeadlineError{Label: label, Elapsed: time.Since(start), Pending: pending(tasks)}
				c.logger.Log(logging.LevelError, "%s", derr.Error())
				return nil, derr
			}
			return nil, fmt.Errorf("%s: %w", label, ctx.Err())
		case <-ticker.C:
			if c.logger.Enabled(logging.LevelDebug) {
				c.logger.Log(logging.LevelDebug, "%s: waiting elapsed=%s running=%v",
					label, time.Since(start).Round(time.Millisecond), pending(tasks))
			}
		}
	}

	outcomes := make([]Outcome[Resp], len(tasks))
	for i, t := range tasks {
		outcomes[i], _ = t.Outcome()
	}
	c.logger.Log(logging.LevelDebug, "%s: all peers finished elapsed=%s", label, time.Since(start).Round(time.Millisecond))
	return outcomes, nil
}

func pending[Req, Resp any](tasks []*Task[Req, Resp]) []int {
	var idx []int
	for _, t := range tasks {
		if !t.Finished() {
			idx = append(idx, t.Endpoint().Index)
		}
	}
	return idx
}
