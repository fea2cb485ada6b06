package inference

import (
	"context"
	"sync/atomic"
	"time"
)

// WaitOutcome is the result of Gate.Wait.
type WaitOutcome int

const (
	WaitReady WaitOutcome = iota
	WaitTimedOut
	WaitStopped
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitReady:
		return "ready"
	case WaitTimedOut:
		return "timeout"
	case WaitStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Gate is the two-permit handshake between the audio producer and the
// inference worker. resultReady starts available and is taken by whoever
// starts a cycle; dataReady starts empty and wakes the worker.
//
// TryTrigger is safe on the real-time thread: one CAS and at most one
// non-blocking channel send, no allocation.
type Gate struct {
	resultReady atomic.Int32
	dataReady   chan struct{}
	released    chan struct{}
	stopped     atomic.Bool
	dropped     atomic.Uint64
	timer       *time.Timer
}

// NewGate returns a gate with the result permit available.
func NewGate() *Gate {
	g := &Gate{
		dataReady: make(chan struct{}, 1),
		released:  make(chan struct{}, 1),
		timer:     time.NewTimer(time.Hour),
	}
	g.timer.Stop()
	g.resultReady.Store(1)
	return g
}

// TryAcquire takes the result permit without blocking.
func (g *Gate) TryAcquire() bool {
	return g.resultReady.CompareAndSwap(1, 0)
}

// TryTrigger takes the result permit and signals data. It returns false,
// counting a dropped trigger, when a cycle is already pending or running.
func (g *Gate) TryTrigger() bool {
	if g.stopped.Load() {
		return false
	}
	if !g.TryAcquire() {
		g.dropped.Add(1)
		return false
	}
	g.signal()
	return true
}

func (g *Gate) signal() {
	select {
	case g.dataReady <- struct{}{}:
	default:
	}
}

// Wait blocks until data is signalled, timeout elapses, or the gate stops.
// Only the worker goroutine may call Wait.
func (g *Gate) Wait(timeout time.Duration) WaitOutcome {
	if g.stopped.Load() {
		return WaitStopped
	}
	g.timer.Reset(timeout)
	select {
	case <-g.dataReady:
		g.timer.Stop()
		if g.stopped.Load() {
			return WaitStopped
		}
		return WaitReady
	case <-g.timer.C:
		if g.stopped.Load() {
			return WaitStopped
		}
		return WaitTimedOut
	}
}

// Release returns the result permit.
func (g *Gate) Release() {
	g.resultReady.Store(1)
	select {
	case g.released <- struct{}{}:
	default:
	}
}

// Acquire blocks until the result permit is held or ctx ends. Holding the
// permit guarantees no cycle is running and no trigger is pending.
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		if g.TryAcquire() {
			return nil
		}
		select {
		case <-g.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Held reports whether the result permit is currently taken.
func (g *Gate) Held() bool {
	return g.resultReady.Load() == 0
}

// Stop sets the stop flag and wakes the worker once.
func (g *Gate) Stop() {
	g.stopped.Store(true)
	g.signal()
}

// Stopped reports whether Stop has been called.
func (g *Gate) Stopped() bool {
	return g.stopped.Load()
}

// DroppedTriggers returns the number of triggers refused since creation.
func (g *Gate) DroppedTriggers() uint64 {
	return g.dropped.Load()
}
