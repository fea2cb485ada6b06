package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i7-12700K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13600K", 6},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Apple M2 Max", 12},
		{"Apple M1", 4},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, performanceCores(tt.brand))
		})
	}
}

func TestOptimalThreadCount(t *testing.T) {
	t.Parallel()

	cpus := runtime.NumCPU()
	assert.Equal(t, min(4, cpus), CPUSpec{PerformanceCores: 4, PhysicalCores: 16}.GetOptimalThreadCount())
	assert.Equal(t, min(2, cpus), CPUSpec{PhysicalCores: 2, LogicalCores: 4}.GetOptimalThreadCount())
	assert.Equal(t, cpus, CPUSpec{}.GetOptimalThreadCount())

	spec := GetCPUSpec()
	assert.GreaterOrEqual(t, spec.GetOptimalThreadCount(), 1)
}
