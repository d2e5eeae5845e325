package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Metrics collects in-process bridge counters. Every Record call also feeds
// the Prometheus collectors when they are initialized.
type Metrics struct {
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	Resolutions        atomic.Int64
	FailedResolutions  atomic.Int64
	RowsCollected      atomic.Int64
	FramesCollected    atomic.Int64
	ArchivesExpanded   atomic.Int64
	SearchPathEntries  atomic.Int64
	UndeterminedSchema atomic.Int64

	funcMetrics sync.Map // function -> *FunctionMetrics

	startTime time.Time
}

// FunctionMetrics tracks one resolved function.
type FunctionMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

var global = newMetrics()

func newMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(maxInt64)
	return m
}

// Global returns the process-wide metrics.
func Global() *Metrics {
	return global
}

// RecordInvocation records one adapter call.
func (m *Metrics) RecordInvocation(function, kind string, durationMs int64, success bool) {
	m.TotalInvocations.Add(1)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}
	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	fm := m.getFunctionMetrics(function)
	fm.Invocations.Add(1)
	if success {
		fm.Successes.Add(1)
	} else {
		fm.Failures.Add(1)
	}
	fm.TotalMs.Add(durationMs)
	updateMin(&fm.MinMs, durationMs)
	updateMax(&fm.MaxMs, durationMs)

	recordPrometheusInvocation(kind, durationMs, success)
}

// RecordResolution records one resolver outcome.
func (m *Metrics) RecordResolution(strategy string, success bool) {
	m.Resolutions.Add(1)
	if !success {
		m.FailedResolutions.Add(1)
	}
	recordPrometheusResolution(strategy, success)
}

// RecordRows records rows pushed to a row collector.
func (m *Metrics) RecordRows(kind string, n int) {
	m.RowsCollected.Add(int64(n))
	recordPrometheusRows(kind, n)
}

// RecordFrames records frames pushed to a frame collector.
func (m *Metrics) RecordFrames(n int, undetermined int) {
	m.FramesCollected.Add(int64(n))
	m.UndeterminedSchema.Add(int64(undetermined))
	recordPrometheusFrames(n, undetermined)
}

func (m *Metrics) getFunctionMetrics(function string) *FunctionMetrics {
	if v, ok := m.funcMetrics.Load(function); ok {
		return v.(*FunctionMetrics)
	}
	fm := &FunctionMetrics{}
	fm.MinMs.Store(maxInt64)
	actual, _ := m.funcMetrics.LoadOrStore(function, fm)
	return actual.(*FunctionMetrics)
}

// RecordArchiveExpanded counts one archive expansion.
func RecordArchiveExpanded() {
	global.ArchivesExpanded.Add(1)
	recordPrometheusArchiveExpanded()
}

// SetSearchPathEntries publishes the size of the process-wide search path.
func SetSearchPathEntries(n int) {
	global.SearchPathEntries.Store(int64(n))
	setPrometheusSearchPathEntries(n)
}

// Snapshot returns a point-in-time view of all counters.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalInvocations.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	minLatency := m.MinLatencyMs.Load()
	if minLatency == maxInt64 {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"invocations": map[string]interface{}{
			"total":   total,
			"success": m.SuccessInvocations.Load(),
			"failed":  m.FailedInvocations.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"resolutions": map[string]interface{}{
			"total":  m.Resolutions.Load(),
			"failed": m.FailedResolutions.Load(),
		},
		"collected": map[string]interface{}{
			"rows":                m.RowsCollected.Load(),
			"frames":              m.FramesCollected.Load(),
			"undetermined_schema": m.UndeterminedSchema.Load(),
		},
		"loader": map[string]interface{}{
			"archives_expanded":   m.ArchivesExpanded.Load(),
			"search_path_entries": m.SearchPathEntries.Load(),
		},
	}
}

// FunctionStats returns per-function counters.
func (m *Metrics) FunctionStats() map[string]interface{} {
	result := make(map[string]interface{})
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fm := value.(*FunctionMetrics)
		total := fm.Invocations.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(fm.TotalMs.Load()) / float64(total)
		}
		minMs := fm.MinMs.Load()
		if minMs == maxInt64 {
			minMs = 0
		}
		result[key.(string)] = map[string]interface{}{
			"invocations": total,
			"successes":   fm.Successes.Load(),
			"failures":    fm.Failures.Load(),
			"avg_ms":      avgMs,
			"min_ms":      minMs,
			"max_ms":      fm.MaxMs.Load(),
		}
		return true
	})
	return result
}

// JSONHandler serves Snapshot and FunctionStats as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["functions"] = m.FunctionStats()
		json.NewEncoder(w).Encode(result)
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value >= current {
			return
		}
		if target.CompareAndSwap(current, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value <= current {
			return
		}
		if target.CompareAndSwap(current, value) {
			return
		}
	}
}
