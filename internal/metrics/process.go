package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	execCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logship",
			Subsystem: "exec",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the supervised child process.",
		}, []string{"command"},
	)
	execMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logship",
			Subsystem: "exec",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the supervised child process.",
		}, []string{"command"},
	)
	execNumThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logship",
			Subsystem: "exec",
			Name:      "num_threads",
			Help:      "Thread count of the supervised child process.",
		}, []string{"command"},
	)
)

// ProcessSample is one resource reading of a process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessSummary aggregates the samples taken over a process lifetime.
type ProcessSummary struct {
	Command       string  `json:"command"`
	Samples       int     `json:"samples"`
	PeakCPU       float64 `json:"peak_cpu_percent"`
	PeakMemoryRSS uint64  `json:"peak_memory_rss"`
}

// ProcessSampler periodically reads CPU and memory of one process.
type ProcessSampler struct {
	command  string
	pid      int32
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	summary ProcessSummary
	last    ProcessSample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessSampler samples pid every interval (default 5s) and labels
// the gauges with command.
func NewProcessSampler(command string, pid int32, interval time.Duration, log *slog.Logger) *ProcessSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ProcessSampler{
		command:  command,
		pid:      pid,
		interval: interval,
		log:      log,
		summary:  ProcessSummary{Command: command},
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling until ctx is done or Stop is called.
func (s *ProcessSampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.Sample(); err != nil {
					s.log.Debug("process sample failed", "pid", s.pid, "error", err)
				}
			}
		}
	}()
}

// Stop ends sampling and returns the summary.
func (s *ProcessSampler) Stop() ProcessSummary {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	if regOK.Load() {
		execCPUPercent.DeleteLabelValues(s.command)
		execMemoryBytes.DeleteLabelValues(s.command)
		execNumThreads.DeleteLabelValues(s.command)
	}
	return s.Summary()
}

// Summary returns the aggregate of samples taken so far.
func (s *ProcessSampler) Summary() ProcessSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Sample takes one reading now.
func (s *ProcessSampler) Sample() (ProcessSample, error) {
	proc, err := process.NewProcess(s.pid)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	sample := ProcessSample{
		PID:        s.pid,
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}

	s.mu.Lock()
	s.last = sample
	s.summary.Samples++
	if cpu > s.summary.PeakCPU {
		s.summary.PeakCPU = cpu
	}
	if mem.RSS > s.summary.PeakMemoryRSS {
		s.summary.PeakMemoryRSS = mem.RSS
	}
	s.mu.Unlock()

	if regOK.Load() {
		execCPUPercent.WithLabelValues(s.command).Set(cpu)
		execMemoryBytes.WithLabelValues(s.command).Set(float64(mem.RSS))
		execNumThreads.WithLabelValues(s.command).Set(float64(threads))
	}
	return sample, nil
}
