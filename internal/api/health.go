package api

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/valyala/fasthttp"

	"github.com/Slipstreamm/openguard/internal/metrics"
)

type healthReport struct {
	Status       string          `json:"status"`
	Uptime       string          `json:"uptime"`
	GuildWorkers int             `json:"guild_workers"`
	EventRate    float64         `json:"event_rate"`
	Loops        map[string]bool `json:"loops,omitempty"`
	Host         hostReport      `json:"host"`
}

type hostReport struct {
	Hostname    string  `json:"hostname,omitempty"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsedPct  float64 `json:"mem_used_percent"`
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
}

// handleHealth answers 503 when any watched loop has gone quiet.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	report := healthReport{
		Status:    "ok",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		EventRate: metrics.Ingress.GetRate(),
		Host:      collectHost(),
	}
	if s.workers != nil {
		report.GuildWorkers = s.workers()
	}
	if s.status != nil {
		report.Loops = s.status.Status()
		for _, ok := range report.Loops {
			if !ok {
				report.Status = "degraded"
			}
		}
	}

	code := fasthttp.StatusOK
	if report.Status != "ok" {
		code = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, code, report)
}

// collectHost degrades to zero values where the platform hides a stat.
func collectHost() hostReport {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	hr := hostReport{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
	}
	if info, err := host.Info(); err == nil {
		hr.Hostname = info.Hostname
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hr.MemUsedPct = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hr.CPUPercent = pct[0]
	}
	return hr
}
