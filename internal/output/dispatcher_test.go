package output

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/observability/metrics"
)

type memorySink struct {
	name   string
	mu     sync.Mutex
	got    []uint64
	block  chan struct{}
	fail   bool
	panics bool
	closed bool
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, r inference.Result) error {
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	s.got = append(s.got, r.Sequence)
	s.mu.Unlock()
	if s.fail {
		return errors.Newf("write refused").Category(errors.CategoryNetwork).Build()
	}
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) sequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.got...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	t.Parallel()
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b"}
	rec := metrics.NewTestRecorder()
	d := NewDispatcher(16, []Sink{a, b}, WithRecorder(rec))
	d.Start(t.Context())

	for i := range 10 {
		d.Emit(inference.Result{Sequence: uint64(i + 1)})
	}
	require.Eventually(t, func() bool { return len(b.sequences()) == 10 }, time.Second, time.Millisecond)
	require.NoError(t, d.Close())

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, a.sequences())
	assert.Equal(t, a.sequences(), b.sequences())
	assert.True(t, a.closed)
	assert.Equal(t, 10, rec.Operations("a", metrics.StatusSuccess))
	assert.Equal(t, uint64(10), d.Emitted())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	slow := &memorySink{name: "slow", block: gate}
	rec := metrics.NewTestRecorder()
	d := NewDispatcher(2, []Sink{slow}, WithRecorder(rec))
	d.Start(t.Context())

	start := time.Now()
	for i := range 20 {
		d.Emit(inference.Result{Sequence: uint64(i)})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Emit must not block")
	assert.Positive(t, d.Dropped())
	assert.Equal(t, int(d.Dropped()), rec.Operations(metrics.OpEmit, metrics.StatusDropped))

	close(gate)
	require.NoError(t, d.Close())
	assert.Equal(t, d.Emitted(), uint64(len(slow.sequences())))
}

func TestDispatcherIsolatesFailingSinks(t *testing.T) {
	t.Parallel()
	failing := &memorySink{name: "failing", fail: true}
	panicking := &memorySink{name: "panicking", panics: true}
	ok := &memorySink{name: "ok"}
	rec := metrics.NewTestRecorder()
	d := NewDispatcher(4, []Sink{failing, panicking, ok}, WithRecorder(rec))
	d.Start(t.Context())

	d.Emit(inference.Result{Sequence: 1})
	require.Eventually(t, func() bool { return len(ok.sequences()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.Close())

	assert.Equal(t, 1, rec.Errors("failing", string(errors.CategoryNetwork)))
	assert.Equal(t, 1, rec.Errors("panicking", string(errors.CategorySystem)))
}

func TestDispatcherCloseWithoutStart(t *testing.T) {
	t.Parallel()
	s := &memorySink{name: "s"}
	d := NewDispatcher(0, []Sink{s})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, s.closed)
}

func TestLatest(t *testing.T) {
	t.Parallel()
	l := NewLatest(3)
	_, ok := l.Get()
	assert.False(t, ok)
	assert.Empty(t, l.Recent())

	for i := range 5 {
		require.NoError(t, l.Write(t.Context(), inference.Result{Sequence: uint64(i + 1)}))
	}
	last, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(5), last.Sequence)

	var seqs []uint64
	for _, r := range l.Recent() {
		seqs = append(seqs, r.Sequence)
	}
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}
