package dispatch

import "sync"

// AbortState is the lifecycle of the abort signal across one command.
type AbortState int

const (
	AbortIdle AbortState = iota
	AbortArmed
	AbortRequested
)

func (s AbortState) String() string {
	switch s {
	case AbortIdle:
		return "idle"
	case AbortArmed:
		return "armed"
	case AbortRequested:
		return "abort_requested"
	default:
		return "unknown"
	}
}

// AbortSignal is the process-wide cancellation flag for the command in progress.
// Arm is called by the executing command, Request by an independent ABORT handler.
type AbortSignal struct {
	mu    sync.Mutex
	state AbortState
	ch    chan struct{}
}

func NewAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Arm resets the signal for a new command. Any previous request is forgotten.
func (a *AbortSignal) Arm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = AbortArmed
	a.ch = make(chan struct{})
}

// Disarm returns to idle once the command has completed.
func (a *AbortSignal) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = AbortIdle
	a.ch = nil
}

// Request moves an armed signal to AbortRequested and wakes every waiter.
// It returns false when no command is armed or an abort was already requested.
func (a *AbortSignal) Request() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AbortArmed {
		return false
	}
	a.state = AbortRequested
	close(a.ch)
	return true
}

func (a *AbortSignal) Requested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == AbortRequested
}

func (a *AbortSignal) State() AbortState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed when an abort is requested for the armed command. It is nil while
// idle, so selecting on it never fires.
func (a *AbortSignal) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch
}

// Check is the cooperative check point: ErrAborted once an abort was requested.
func (a *AbortSignal) Check() error {
	if a != nil && a.Requested() {
		return ErrAborted
	}
	return nil
}
