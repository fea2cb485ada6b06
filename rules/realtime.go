//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// audioPath matches the packages whose code runs on, or is called from, the
// audio callback.
const audioPath = `/internal/(ringbuffer|inference|stream)$`

// AudioPathNoSleep flags sleeping in code reachable from the audio callback.
// Waiting belongs in the worker, through the inference gate.
func AudioPathNoSleep(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(m.File().PkgPath.Matches(audioPath) && !m.File().Name.Matches(`_test\.go$`)).
		Report("do not sleep in audio path packages; wait on the inference gate instead")
}

// AudioPathNoFormatting flags string formatting in the ring buffer, which is
// written to from the audio callback for every sample.
func AudioPathNoFormatting(m dsl.Matcher) {
	m.Match(`fmt.Sprintf($*_)`, `fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/ringbuffer$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("ring buffer code runs per sample; do not format strings here")
}

// TimeAfterInLoop detects time.After inside a select in a loop, which
// allocates a new timer on every iteration.
//
// Old pattern:
//
//	for {
//	    select {
//	    case <-time.After(d):
//	    }
//	}
//
// New pattern:
//
//	timer := time.NewTimer(d)
//	defer timer.Stop()
func TimeAfterInLoop(m dsl.Matcher) {
	m.Match(`for { $*_; select { $*_; case <-time.After($d): $*_; $*_ }; $*_ }`,
		`for $*_ { $*_; select { $*_; case <-time.After($d): $*_; $*_ }; $*_ }`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("time.After in a loop allocates a timer per iteration; reuse a time.Timer or time.Ticker")
}

// BackgroundContextInWorker flags context.Background in packages whose
// blocking calls receive a context from the caller.
func BackgroundContextInWorker(m dsl.Matcher) {
	m.Match(`context.Background()`).
		Where(m.File().PkgPath.Matches(`/internal/(inference|capture|api)$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("pass the caller's context instead of context.Background()")
}
