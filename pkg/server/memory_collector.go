package server

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/common"
)

const mib = 1024 * 1024

// MemoryMonitorConfig configures periodic runtime memory reporting.
type MemoryMonitorConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval" default:"1m"`
	WarningThresholdMB  uint64        `yaml:"warningThresholdMB" default:"2048"`
	CriticalThresholdMB uint64        `yaml:"criticalThresholdMB" default:"4096"`
}

// MemoryStatsCollector exports runtime memory statistics and logs when
// allocation crosses the configured thresholds.
type MemoryStatsCollector struct {
	log    logrus.FieldLogger
	config MemoryMonitorConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	lastAllocBytes uint64
	maxAllocBytes  uint64
}

// NewMemoryStatsCollector creates a new memory stats collector
func NewMemoryStatsCollector(log logrus.FieldLogger, config MemoryMonitorConfig) *MemoryStatsCollector {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	return &MemoryStatsCollector{
		log:    log.WithField("component", "memory_stats_collector"),
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting memory statistics
func (m *MemoryStatsCollector) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.log.Debug("Memory stats collector is disabled")

		return
	}

	m.log.WithFields(logrus.Fields{
		"interval":              m.config.Interval,
		"warning_threshold_mb":  m.config.WarningThresholdMB,
		"critical_threshold_mb": m.config.CriticalThresholdMB,
	}).Info("Starting memory stats collector")

	m.wg.Go(func() { m.run(ctx) })
}

// Stop stops the memory stats collector
func (m *MemoryStatsCollector) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *MemoryStatsCollector) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.collectStats()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collectStats()
		}
	}
}

// pressureLevel classifies allocMB against the thresholds, "" when below both.
func (m *MemoryStatsCollector) pressureLevel(allocMB uint64) string {
	switch {
	case m.config.CriticalThresholdMB > 0 && allocMB > m.config.CriticalThresholdMB:
		return "critical"
	case m.config.WarningThresholdMB > 0 && allocMB > m.config.WarningThresholdMB:
		return "warning"
	default:
		return ""
	}
}

func (m *MemoryStatsCollector) collectStats() {
	var memStats runtime.MemStats

	runtime.ReadMemStats(&memStats)

	common.MemoryUsage.WithLabelValues("alloc").Set(float64(memStats.Alloc))
	common.MemoryUsage.WithLabelValues("sys").Set(float64(memStats.Sys))
	common.MemoryUsage.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
	common.MemoryUsage.WithLabelValues("heap_sys").Set(float64(memStats.HeapSys))
	common.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	allocMB := memStats.Alloc / mib

	fields := logrus.Fields{
		"alloc_mb":      allocMB,
		"sys_mb":        memStats.Sys / mib,
		"heap_alloc_mb": memStats.HeapAlloc / mib,
		"goroutines":    runtime.NumGoroutine(),
		"num_gc":        memStats.NumGC,
		"gc_cpu_pct":    fmt.Sprintf("%.2f", memStats.GCCPUFraction*100),
	}

	if m.lastAllocBytes > 0 {
		//nolint:gosec // megabyte counts fit in int64
		fields["spike_mb"] = int64(allocMB) - int64(m.lastAllocBytes/mib)
	}

	m.lastAllocBytes = memStats.Alloc
	m.maxAllocBytes = max(m.maxAllocBytes, memStats.Alloc)
	fields["max_alloc_mb"] = m.maxAllocBytes / mib

	switch level := m.pressureLevel(allocMB); level {
	case "critical":
		common.MemoryPressureEvents.WithLabelValues(level).Inc()
		m.log.WithFields(fields).Error("Critical memory usage detected")
	case "warning":
		common.MemoryPressureEvents.WithLabelValues(level).Inc()
		m.log.WithFields(fields).Warn("High memory usage detected")
	default:
		m.log.WithFields(fields).Debug("Memory usage summary")
	}
}
