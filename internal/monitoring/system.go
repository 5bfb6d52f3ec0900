package monitoring

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/multierr"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

// SystemSample is one reading of host resources
type SystemSample struct {
	LoadAvg1      float64 `json:"load_avg_1m"`
	LoadAvg5      float64 `json:"load_avg_5m"`
	LoadAvg15     float64 `json:"load_avg_15m"`
	Cores         int     `json:"cores"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryFree    uint64  `json:"memory_free_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
}

// CPUPercent approximates CPU usage as the 1 minute load spread over all cores
func (s SystemSample) CPUPercent() float64 {
	if s.Cores <= 0 {
		return 0
	}
	return s.LoadAvg1 * 100 / float64(s.Cores)
}

// SystemSampler reads host resources. Implementations return whatever they
// could read together with the errors for the rest.
type SystemSampler interface {
	Sample(ctx context.Context) (SystemSample, error)
}

// HostSampler reads load, memory and core count through gopsutil
type HostSampler struct{}

// Sample implements SystemSampler
func (HostSampler) Sample(ctx context.Context) (SystemSample, error) {
	var (
		sample SystemSample
		errAll error
	)

	if avg, err := load.AvgWithContext(ctx); err != nil {
		errAll = multierr.Append(errAll, fmt.Errorf("load average: %w", err))
	} else {
		sample.LoadAvg1, sample.LoadAvg5, sample.LoadAvg15 = avg.Load1, avg.Load5, avg.Load15
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil || cores <= 0 {
		sample.Cores = runtime.NumCPU()
	} else {
		sample.Cores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errAll = multierr.Append(errAll, fmt.Errorf("virtual memory: %w", err))
	} else {
		sample.MemoryTotal = vm.Total
		sample.MemoryFree = vm.Free
		if vm.Total > vm.Available {
			sample.MemoryUsed = vm.Total - vm.Available
		}
		if vm.Total > 0 {
			sample.MemoryPercent = float64(sample.MemoryUsed) / float64(vm.Total) * 100
		}
	}

	return sample, errAll
}

// ProcessInfo describes this process
type ProcessInfo struct {
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heap_alloc_bytes"`
	HeapSys       uint64  `json:"heap_sys_bytes"`
}

// SystemSnapshot is a sample plus derived and process values
type SystemSnapshot struct {
	Timestamp  time.Time    `json:"timestamp"`
	Host       SystemSample `json:"host"`
	CPUPercent float64      `json:"cpu_usage_percent"`
	Process    ProcessInfo  `json:"process"`
}

// HistoryPoint is one value of the rolling system history
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SystemHistory holds the last samples of CPU load and memory percent
type SystemHistory struct {
	CPU    []HistoryPoint `json:"cpu"`
	Memory []HistoryPoint `json:"memory"`
}

// SystemReport is returned by the system metrics endpoint
type SystemReport struct {
	Current       SystemSnapshot `json:"current"`
	History       SystemHistory  `json:"history"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

type systemHistory struct {
	mu     sync.Mutex
	limit  int
	cpu    []HistoryPoint
	memory []HistoryPoint
}

func (h *systemHistory) add(snapshot SystemSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cpu = appendBounded(h.cpu, HistoryPoint{Timestamp: snapshot.Timestamp, Value: snapshot.Host.LoadAvg1}, h.limit)
	h.memory = appendBounded(h.memory, HistoryPoint{Timestamp: snapshot.Timestamp, Value: snapshot.Host.MemoryPercent}, h.limit)
}

func (h *systemHistory) copy() SystemHistory {
	h.mu.Lock()
	defer h.mu.Unlock()

	return SystemHistory{
		CPU:    append([]HistoryPoint{}, h.cpu...),
		Memory: append([]HistoryPoint{}, h.memory...),
	}
}

func appendBounded(points []HistoryPoint, point HistoryPoint, limit int) []HistoryPoint {
	points = append(points, point)
	if overflow := len(points) - limit; overflow > 0 {
		points = append(points[:0], points[overflow:]...)
	}
	return points
}

// sampleSystem reads the host through the sampler. Failures are logged and the
// zero values of whatever could not be read are kept.
func (s *Service) sampleSystem(ctx context.Context) SystemSnapshot {
	sample, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.Warn("System metrics partially unavailable", "error", err)
		s.metrics.RecordError("monitoring", "system_sample")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemSnapshot{
		Timestamp:  s.clock(),
		Host:       sample,
		CPUPercent: sample.CPUPercent(),
		Process: ProcessInfo{
			PID:           os.Getpid(),
			UptimeSeconds: s.Uptime().Seconds(),
			Goroutines:    runtime.NumGoroutine(),
			HeapAlloc:     memStats.HeapAlloc,
			HeapSys:       memStats.HeapSys,
		},
	}
}

// CollectSystemMetrics samples the host, appends to the rolling history and
// evaluates the system rules
func (s *Service) CollectSystemMetrics(ctx context.Context) SystemSnapshot {
	snapshot := s.recordSystemSample(ctx)
	s.alerts.Evaluate(ctx, s.systemContext(snapshot))
	return snapshot
}

func (s *Service) recordSystemSample(ctx context.Context) SystemSnapshot {
	snapshot := s.sampleSystem(ctx)
	s.history.add(snapshot)
	return snapshot
}

func (s *Service) systemContext(snapshot SystemSnapshot) alerting.Context {
	return alerting.Context{
		"serviceName":        s.config.ServiceName,
		"cpuUsagePercent":    snapshot.CPUPercent,
		"memoryUsagePercent": snapshot.Host.MemoryPercent,
		"loadAvg1":           snapshot.Host.LoadAvg1,
		"goroutines":         snapshot.Process.Goroutines,
	}
}

// SystemMetrics returns a fresh sample and the rolling history. Reading does
// not evaluate rules or extend the history.
func (s *Service) SystemMetrics(ctx context.Context) SystemReport {
	return SystemReport{
		Current:       s.sampleSystem(ctx),
		History:       s.history.copy(),
		UptimeSeconds: s.Uptime().Seconds(),
	}
}
