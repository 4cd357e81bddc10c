package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/castserve/castserve/internal/config"
)

var startTime = time.Now()

// SystemStatus is the /api/system/status payload.
type SystemStatus struct {
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	GoVersion     string  `json:"go_version"`
	NumGoroutine  int     `json:"num_goroutine"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
	MemoryTotalMB uint64  `json:"memory_total_mb,omitempty"`
	DiskUsedPct   float64 `json:"disk_used_pct,omitempty"`
	HostUptime    uint64  `json:"host_uptime_seconds,omitempty"`
}

// handleSystemStatus reports process and host health. Probe failures leave
// the affected fields zero instead of failing the request.
func handleSystemStatus(c *gin.Context) {
	status := SystemStatus{
		Version:       "1.0.0",
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		GoVersion:     runtime.Version(),
		NumGoroutine:  runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsedPct = vm.UsedPercent
		status.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	if du, err := disk.Usage(config.Get().Database.Path); err == nil {
		status.DiskUsedPct = du.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		status.HostUptime = uptime
	}

	c.JSON(http.StatusOK, status)
}
