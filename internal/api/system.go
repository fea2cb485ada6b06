package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo is returned by GET /api/v1/system.
type SystemInfo struct {
	OS            string    `json:"os"`
	Architecture  string    `json:"architecture"`
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	PlatformVer   string    `json:"platformVersion"`
	KernelVersion string    `json:"kernelVersion"`
	NumCPU        int       `json:"numCpu"`
	GoVersion     string    `json:"goVersion"`
	AppStart      time.Time `json:"appStart"`
	AppUptime     int64     `json:"appUptimeSeconds"`
	Goroutines    int       `json:"goroutines"`

	MemoryTotal uint64  `json:"memoryTotal"`
	MemoryUsed  uint64  `json:"memoryUsed"`
	MemoryUsage float64 `json:"memoryUsagePercent"`
	CPUUsage    float64 `json:"cpuUsagePercent"`
	ProcessMem  float64 `json:"processMemoryMb"`
	ProcessCPU  float64 `json:"processCpuPercent"`
}

// GetSystemInfo handles GET /api/v1/system. Host probes that fail leave
// their fields zero rather than failing the request.
func (s *Server) GetSystemInfo(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		Hostname:     hostname,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		AppStart:     s.startTime,
		AppUptime:    int64(time.Since(s.startTime).Seconds()),
		Goroutines:   runtime.NumGoroutine(),
	}

	if hostInfo, err := host.InfoWithContext(reqCtx); err == nil {
		info.Platform = hostInfo.Platform
		info.PlatformVer = hostInfo.PlatformVersion
		info.KernelVersion = hostInfo.KernelVersion
	}
	if memInfo, err := mem.VirtualMemoryWithContext(reqCtx); err == nil {
		info.MemoryTotal = memInfo.Total
		info.MemoryUsed = memInfo.Used
		info.MemoryUsage = memInfo.UsedPercent
	}
	// Zero interval compares against the previous call instead of sleeping.
	if pct, err := cpu.PercentWithContext(reqCtx, 0, false); err == nil && len(pct) > 0 {
		info.CPUUsage = pct[0]
	}
	if proc, err := process.NewProcessWithContext(reqCtx, int32(os.Getpid())); err == nil {
		if procMem, err := proc.MemoryInfoWithContext(reqCtx); err == nil && procMem != nil {
			info.ProcessMem = float64(procMem.RSS) / 1024 / 1024
		}
		if procCPU, err := proc.CPUPercentWithContext(reqCtx); err == nil {
			info.ProcessCPU = procCPU
		}
	}

	return ctx.JSON(http.StatusOK, info)
}
