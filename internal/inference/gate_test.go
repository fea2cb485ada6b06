package inference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSingleFlight(t *testing.T) {
	t.Parallel()

	g := NewGate()
	require.True(t, g.TryTrigger())
	assert.True(t, g.Held())

	assert.False(t, g.TryTrigger(), "second trigger refused while the first is pending")
	assert.False(t, g.TryTrigger())
	assert.Equal(t, uint64(2), g.DroppedTriggers())

	assert.Equal(t, WaitReady, g.Wait(time.Second))
	assert.False(t, g.TryTrigger(), "still refused while the cycle runs")

	g.Release()
	assert.True(t, g.TryTrigger())
}

func TestGateWaitTimesOut(t *testing.T) {
	t.Parallel()

	g := NewGate()
	start := time.Now()
	assert.Equal(t, WaitTimedOut, g.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// a timed out wait leaves no stale wakeup behind
	assert.Equal(t, WaitTimedOut, g.Wait(5*time.Millisecond))
}

func TestGateStopWakesWaiter(t *testing.T) {
	t.Parallel()

	g := NewGate()
	outcome := make(chan WaitOutcome, 1)
	go func() { outcome <- g.Wait(time.Minute) }()

	time.Sleep(10 * time.Millisecond)
	g.Stop()

	select {
	case got := <-outcome:
		assert.Equal(t, WaitStopped, got)
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake the waiter")
	}
	assert.Equal(t, WaitStopped, g.Wait(time.Minute))
	assert.False(t, g.TryTrigger())
}

func TestGateAcquire(t *testing.T) {
	t.Parallel()

	g := NewGate()
	require.True(t, g.TryTrigger())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.DeadlineExceeded)

	acquired := make(chan error, 1)
	go func() { acquired <- g.Acquire(t.Context()) }()

	time.Sleep(10 * time.Millisecond)
	g.Release()

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not observe Release")
	}
	assert.True(t, g.Held())
	assert.False(t, g.TryTrigger(), "producer cannot trigger while control holds the permit")
}

func TestTryTriggerDoesNotAllocate(t *testing.T) {
	g := NewGate()
	allocs := testing.AllocsPerRun(1000, func() {
		if g.TryTrigger() {
			g.Wait(time.Millisecond)
			g.Release()
		}
	})
	assert.Zero(t, allocs)
}

func TestWaitOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ready", WaitReady.String())
	assert.Equal(t, "timeout", WaitTimedOut.String())
	assert.Equal(t, "stopped", WaitStopped.String())
}
