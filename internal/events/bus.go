// Package events carries command lifecycle notifications inside the daemon and
// persists them to the command journal.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	// EventCommandStarted is published when an instrument command begins executing.
	EventCommandStarted EventType = "command_started"
	// EventCommandCompleted is published with the command's aggregate result.
	EventCommandCompleted EventType = "command_completed"
	// EventAbortRequested is published when ABORT reaches an armed command.
	EventAbortRequested EventType = "abort_requested"
	// EventConfigChanged is published when the config file changes on disk.
	EventConfigChanged EventType = "config_changed"
	// EventConfigReloaded is published after REBOOT REDATUM swaps the configuration.
	EventConfigReloaded EventType = "config_reloaded"
)

var AllEventTypes = []EventType{
	EventCommandStarted, EventCommandCompleted, EventAbortRequested,
	EventConfigChanged, EventConfigReloaded,
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	dropped     int64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe calls fn on its own goroutine for every event of the given type.
// It returns the unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	unsub, _ := b.subscribe(eventType, fn)
	return unsub
}

// subscribe also returns a channel that is closed once the subscriber goroutine
// has delivered every event queued before unsubscribe.
func (b *Bus) subscribe(eventType EventType, fn Subscriber) (func(), <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}, done
}

// SubscribeAll subscribes fn to every event type and returns one unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsub, _ := b.subscribeAll(fn)
	return unsub
}

// SubscribeAllDrained is SubscribeAll whose unsubscribe function returns only after
// fn has seen every event published before it was called.
func (b *Bus) SubscribeAllDrained(fn Subscriber) func() {
	unsub, wait := b.subscribeAll(fn)
	return func() {
		unsub()
		wait()
	}
}

func (b *Bus) subscribeAll(fn Subscriber) (unsub func(), wait func()) {
	unsubs := make([]func(), 0, len(AllEventTypes))
	dones := make([]<-chan struct{}, 0, len(AllEventTypes))
	for _, et := range AllEventTypes {
		u, done := b.subscribe(et, fn)
		unsubs = append(unsubs, u)
		dones = append(dones, done)
	}
	unsub = func() {
		for _, u := range unsubs {
			u()
		}
	}
	wait = func() {
		for _, done := range dones {
			<-done
		}
	}
	return unsub, wait
}

func (b *Bus) Publish(eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Dropped returns the number of events discarded because a subscriber was full.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
