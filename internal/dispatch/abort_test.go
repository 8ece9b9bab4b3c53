package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAbortSignal_Lifecycle(t *testing.T) {
	a := NewAbortSignal()
	if a.State() != AbortIdle {
		t.Fatalf("new signal should be idle, got %s", a.State())
	}
	if a.Request() {
		t.Error("Request on an idle signal should be refused")
	}
	if a.Done() != nil {
		t.Error("Done should be nil while idle")
	}

	a.Arm()
	if err := a.Check(); err != nil {
		t.Errorf("Check on armed signal: %v", err)
	}
	done := a.Done()
	if !a.Request() {
		t.Fatal("Request on an armed signal should succeed")
	}
	select {
	case <-done:
	default:
		t.Error("Done channel should be closed after Request")
	}
	if !errors.Is(a.Check(), ErrAborted) {
		t.Error("Check should report ErrAborted after Request")
	}
	if a.Request() {
		t.Error("second Request should be refused")
	}

	a.Arm()
	if a.Requested() {
		t.Error("Arm should reset a previous request")
	}
	a.Disarm()
	if a.State() != AbortIdle {
		t.Errorf("Disarm should return to idle, got %s", a.State())
	}
}

func TestAbortSignal_ConcurrentRequests(t *testing.T) {
	a := NewAbortSignal()
	a.Arm()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Request() {
				accepted.Add(1)
			}
			_ = a.Requested()
		}()
	}
	wg.Wait()
	if got := accepted.Load(); got != 1 {
		t.Errorf("exactly one Request should be accepted, got %d", got)
	}
}

func TestNilAbortSignalCheck(t *testing.T) {
	var a *AbortSignal
	if err := a.Check(); err != nil {
		t.Errorf("nil signal should never report abort: %v", err)
	}
}
