package commands

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/Slipstreamm/openguard/internal/metrics"
)

var botStartTime = time.Now()

// SystemStats is what /moderation stats reports. Fields the platform hides
// stay zero.
type SystemStats struct {
	Hostname string
	Platform string
	Uptime   time.Duration

	CPUModel   string
	CPUThreads int
	CPUUsage   float64

	TotalMemory   uint64
	UsedMemory    uint64
	MemoryPercent float64

	DiskUsed    uint64
	DiskTotal   uint64
	DiskPercent float64

	NetworkSent uint64
	NetworkRecv uint64

	GoVersion  string
	Goroutines int
	HeapAlloc  uint64
	NumGC      uint32

	BotUptime    time.Duration
	Guilds       int
	Latency      time.Duration
	GuildWorkers int
	EventRate    float64
}

func (h *Handler) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		return err
	}

	stats := gatherSystemStats()
	stats.Guilds = len(s.State.Guilds)
	stats.Latency = s.HeartbeatLatency()
	if h.Workers != nil {
		stats.GuildWorkers = h.Workers()
	}

	embeds := statsEmbeds(stats)
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds})
	return err
}

func gatherSystemStats() *SystemStats {
	stats := &SystemStats{
		CPUThreads: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		BotUptime:  time.Since(botStartTime),
		EventRate:  metrics.Ingress.GetRate(),
	}

	if hi, err := host.Info(); err == nil {
		stats.Hostname = hi.Hostname
		stats.Platform = hi.Platform + " " + hi.KernelArch
		stats.Uptime = time.Duration(hi.Uptime) * time.Second
	}
	if ci, err := cpu.Info(); err == nil && len(ci) > 0 {
		stats.CPUModel = ci[0].ModelName
	}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		stats.CPUUsage = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.TotalMemory = vm.Total
		stats.UsedMemory = vm.Used
		stats.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		stats.DiskUsed = du.Used
		stats.DiskTotal = du.Total
		stats.DiskPercent = du.UsedPercent
	}
	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		stats.NetworkSent = counters[0].BytesSent
		stats.NetworkRecv = counters[0].BytesRecv
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.HeapAlloc = m.HeapAlloc
	stats.NumGC = m.NumGC
	return stats
}

func statsEmbeds(stats *SystemStats) []*discordgo.MessageEmbed {
	hostEmbed := &discordgo.MessageEmbed{
		Title: "Host",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Machine",
				Value: fmt.Sprintf("**Hostname:** `%s`\n**Platform:** `%s`\n**Uptime:** `%s`",
					stats.Hostname, stats.Platform, formatDuration(stats.Uptime)),
			},
			{
				Name: "CPU",
				Value: fmt.Sprintf("`%s`\n**Threads:** `%d`\n**Usage:** `%.1f%%` %s",
					truncateString(stats.CPUModel, 40), stats.CPUThreads, stats.CPUUsage, progressBar(stats.CPUUsage)),
				Inline: true,
			},
			{
				Name: "Memory",
				Value: fmt.Sprintf("`%s` / `%s`\n%s",
					formatBytes(stats.UsedMemory), formatBytes(stats.TotalMemory), progressBar(stats.MemoryPercent)),
				Inline: true,
			},
			{
				Name: "Disk and network",
				Value: fmt.Sprintf("**Disk:** `%s` / `%s` %s\n**Sent:** `%s` **Received:** `%s`",
					formatBytes(stats.DiskUsed), formatBytes(stats.DiskTotal), progressBar(stats.DiskPercent),
					formatBytes(stats.NetworkSent), formatBytes(stats.NetworkRecv)),
			},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	engineEmbed := &discordgo.MessageEmbed{
		Title: "Engine",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Bot",
				Value: fmt.Sprintf("**Uptime:** `%s`\n**Guilds:** `%d`\n**Gateway latency:** `%dms`",
					formatDuration(stats.BotUptime), stats.Guilds, stats.Latency.Milliseconds()),
				Inline: true,
			},
			{
				Name: "Moderation",
				Value: fmt.Sprintf("**Active guild workers:** `%d`\n**Events/s:** `%.1f`",
					stats.GuildWorkers, stats.EventRate),
				Inline: true,
			},
			{
				Name: "Go runtime",
				Value: fmt.Sprintf("**Version:** `%s`\n**Goroutines:** `%d`\n**Heap:** `%s`\n**GC cycles:** `%d`",
					stats.GoVersion, stats.Goroutines, formatBytes(stats.HeapAlloc), stats.NumGC),
			},
		},
	}
	return []*discordgo.MessageEmbed{hostEmbed, engineEmbed}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// progressBar draws a ten cell bar for a 0..100 percentage.
func progressBar(percent float64) string {
	filled := int(percent / 10)
	filled = max(0, min(10, filled))
	return "`" + strings.Repeat("█", filled) + strings.Repeat("░", 10-filled) + "`"
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
