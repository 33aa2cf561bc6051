package supervisor

import (
	"sync"
	"time"
)

// State is the lifecycle state of a worker.
type State int

const (
	Idle State = iota
	Starting
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a latch set once by a single writer and observed by any number of
// readers.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the event is set.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

// Wait blocks until the event is set or the timeout elapses. A timeout <= 0
// waits forever.
func (e *Event) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-e.ch
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}

// deadline converts a relative timeout into a channel firing at the deadline.
// A timeout <= 0 never fires.
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(timeout)
	return timer.C, func() { timer.Stop() }
}
