// Package cpuspec inspects the host CPU to size inference thread pools.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PhysicalCores    int
	PerformanceCores int // 0 when the part is not a known hybrid design
}

// GetCPUSpec returns the specification of the host CPU
func GetCPUSpec() CPUSpec {
	brand := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brand,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		PerformanceCores: performanceCores(brand),
	}
}

// GetOptimalThreadCount returns the recommended interpreter thread count.
// Hybrid parts keep inference on performance cores; other parts use physical
// cores, then logical cores, then runtime.NumCPU.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()
	for _, n := range []int{c.PerformanceCores, c.PhysicalCores, c.LogicalCores} {
		if n > 0 {
			return min(n, available)
		}
	}
	return available
}

var (
	intelHybrid = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d{3})|intel.*core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	appleChip   = regexp.MustCompile(`apple\s+(m[1-4](?:\s+(?:pro|max|ultra))?)`)
)

// performance core counts by Intel model number prefix or Apple chip name
var knownPerformanceCores = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
	"285": 8, "265": 8, "255": 8, "245": 6, "235": 6, "225": 4,
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
	"m4": 4, "m4 pro": 10, "m4 max": 12,
}

func performanceCores(brand string) int {
	brand = strings.ToLower(brand)
	if m := intelHybrid.FindStringSubmatch(brand); m != nil {
		if m[1] != "" {
			return knownPerformanceCores[m[1]]
		}
		return knownPerformanceCores[m[2]]
	}
	if m := appleChip.FindStringSubmatch(brand); m != nil {
		return knownPerformanceCores[strings.Join(strings.Fields(m[1]), " ")]
	}
	return 0
}
