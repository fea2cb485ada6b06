//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo suggests Go 1.25's wg.Go over Add/Done pairs.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")
}

// BenchmarkLoop suggests b.Loop over the b.N counter loop (Go 1.24+).
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*_ }`, `for range $b.N { $*_ }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } (Go 1.24+)")
}

// TestingContext suggests t.Context in tests (Go 1.24+).
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() so work is cancelled when the test ends (Go 1.24+)")
}

// RangeOverInteger suggests range over an int (Go 1.22+).
func RangeOverInteger(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $n; $i++ { $*_ }`).
		Where(m["n"].Type.Is("int") && !m["n"].Text.Matches(`\.N$`)).
		Report("use for $i := range $n (Go 1.22+)")
}

// MinMaxBuiltin suggests the min and max builtins over float64 round trips
// (Go 1.21+).
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b) (Go 1.21+)").
		Suggest("min($a, $b)")
	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b) (Go 1.21+)").
		Suggest("max($a, $b)")
}
