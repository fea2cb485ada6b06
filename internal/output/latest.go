package output

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tphakala/pitchnet-go/internal/inference"
)

// Latest keeps the most recent result and a short window of recent ones for
// the HTTP API.
type Latest struct {
	last   atomic.Pointer[inference.Result]
	mu     sync.Mutex
	recent []inference.Result
	next   int
	full   bool
}

// NewLatest creates a Latest sink remembering up to n recent results.
func NewLatest(n int) *Latest {
	return &Latest{recent: make([]inference.Result, max(n, 1))}
}

func (l *Latest) Name() string { return "latest" }

func (l *Latest) Write(_ context.Context, r inference.Result) error {
	l.last.Store(&r)
	l.mu.Lock()
	l.recent[l.next] = r
	l.next = (l.next + 1) % len(l.recent)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return nil
}

// Get returns the most recent result.
func (l *Latest) Get() (inference.Result, bool) {
	r := l.last.Load()
	if r == nil {
		return inference.Result{}, false
	}
	return *r, true
}

// Recent returns buffered results, oldest first.
func (l *Latest) Recent() []inference.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]inference.Result(nil), l.recent[:l.next]...)
	}
	out := make([]inference.Result, 0, len(l.recent))
	out = append(out, l.recent[l.next:]...)
	return append(out, l.recent[:l.next]...)
}

func (l *Latest) Close() error { return nil }
