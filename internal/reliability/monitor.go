// Package reliability tracks per-tool health over time: rolling success
// rates, response time drift against an established baseline, and alerting
// on degradation. This is the one piece of state shared across concurrently
// executing plans, so every read-modify-write is serialized behind a mutex.
package reliability

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
)

// Alert describes a single health transition worth telling someone about.
type Alert struct {
	ToolName  string    `json:"tool_name"`
	Metric    string    `json:"metric"` // "reliability" or "response_time_drift"
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertCallback receives alerts synchronously. Callbacks must be fast;
// panics are recovered and logged, never propagated to the recorder.
type AlertCallback func(Alert)

type toolState struct {
	name        string
	successRate float64
	avgResponse float64 // seconds, exponential moving average
	baselineSum float64
	baseline    float64 // seconds, established from the first N samples
	samples     int64
	failures    int64
	drift       bool
	slow        bool
	lastFailure time.Time
	lastUpdated time.Time
}

// Monitor owns the tool health registry. Construct one per process and share
// it between the execution engine and the orchestrator.
type Monitor struct {
	cfg    config.ReliabilityConfig
	logger *zap.Logger

	mu        sync.Mutex
	tools     map[string]*toolState
	callbacks []AlertCallback
}

// New creates a Monitor.
func New(cfg config.ReliabilityConfig, logger *zap.Logger) *Monitor {
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha > 1 {
		cfg.SmoothingAlpha = 0.1
	}
	if cfg.BaselineSamples <= 0 {
		cfg.BaselineSamples = 5
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "reliability_monitor")),
		tools:  make(map[string]*toolState),
	}
}

// RegisterTool creates a health record for the tool if one does not exist.
// A fresh tool starts with a perfect success rate; registration is also
// implicit on the first recorded execution.
func (m *Monitor) RegisterTool(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(name)
}

func (m *Monitor) registerLocked(name string) *toolState {
	if t, ok := m.tools[name]; ok {
		return t
	}
	t := &toolState{
		name:        name,
		successRate: 1.0,
		lastUpdated: time.Now().UTC(),
	}
	m.tools[name] = t
	return t
}

// AddAlertCallback registers a callback invoked on every health transition.
func (m *Monitor) AddAlertCallback(cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// RecordExecution folds one tool execution into the rolling window. The
// success rate and response time average are exponential moving averages, so
// recent samples always weigh at least as heavily as older ones and the rate
// can never leave [0, 1]. Alert callbacks fire outside the critical section.
func (m *Monitor) RecordExecution(name string, success bool, responseTime time.Duration) {
	rt := responseTime.Seconds()
	now := time.Now().UTC()

	var alerts []Alert
	var callbacks []AlertCallback

	m.mu.Lock()
	t := m.registerLocked(name)

	wasReliable := t.successRate >= m.cfg.Threshold
	wasDrifting := t.drift
	wasSlow := t.slow

	alpha := m.cfg.SmoothingAlpha
	sample := 0.0
	if success {
		sample = 1.0
	}
	oldRate := t.successRate
	oldAvg := t.avgResponse
	t.successRate = alpha*sample + (1-alpha)*t.successRate
	t.avgResponse = alpha*rt + (1-alpha)*t.avgResponse
	t.samples++
	t.lastUpdated = now
	if !success {
		t.failures++
		t.lastFailure = now
	}

	// The baseline is the plain average of the first N samples; drift is
	// judged against it only after the baseline window closes.
	if t.samples <= m.cfg.BaselineSamples {
		t.baselineSum += rt
		if t.samples == m.cfg.BaselineSamples {
			t.baseline = t.baselineSum / float64(m.cfg.BaselineSamples)
		}
	} else if t.baseline > 0 && !t.drift {
		limit := t.baseline * (1 + m.cfg.DriftPercent/100)
		if t.avgResponse > limit {
			t.drift = true
		}
	}

	// The absolute cap is independent of the drift baseline: a tool that was
	// always slow never drifts but can still breach the performance threshold.
	if m.cfg.PerformanceThreshold > 0 {
		t.slow = t.avgResponse > m.cfg.PerformanceThreshold.Seconds()
	}

	if wasReliable && t.successRate < m.cfg.Threshold {
		alerts = append(alerts, Alert{
			ToolName: name, Metric: "reliability",
			OldValue: oldRate, NewValue: t.successRate, Timestamp: now,
		})
	}
	if !wasDrifting && t.drift {
		alerts = append(alerts, Alert{
			ToolName: name, Metric: "response_time_drift",
			OldValue: oldAvg, NewValue: t.avgResponse, Timestamp: now,
		})
	}
	if !wasSlow && t.slow {
		alerts = append(alerts, Alert{
			ToolName: name, Metric: "response_time_threshold",
			OldValue: oldAvg, NewValue: t.avgResponse, Timestamp: now,
		})
	}
	if len(alerts) > 0 {
		callbacks = make([]AlertCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.logger.Warn("Tool health degraded",
			zap.String("tool", a.ToolName),
			zap.String("metric", a.Metric),
			zap.Float64("old", a.OldValue),
			zap.Float64("new", a.NewValue),
		)
		for _, cb := range callbacks {
			m.invoke(cb, a)
		}
	}
}

// invoke runs a single callback, containing any panic. A broken callback
// must not take the monitor down with it.
func (m *Monitor) invoke(cb AlertCallback, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Alert callback panicked", zap.Any("panic", r), zap.String("tool", a.ToolName))
		}
	}()
	cb(a)
}

// ToolHealth returns a snapshot of the tool's current health record.
func (m *Monitor) ToolHealth(name string) (schemas.ToolHealthRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tools[name]
	if !ok {
		return schemas.ToolHealthRecord{}, false
	}
	return snapshot(t), true
}

// AllToolHealth returns snapshots for every registered tool, sorted by name.
func (m *Monitor) AllToolHealth() []schemas.ToolHealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.ToolHealthRecord, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, snapshot(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out
}

// UnreliableTools returns every tool whose current success rate is below the
// caller-provided threshold, sorted by name.
func (m *Monitor) UnreliableTools(threshold float64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name, t := range m.tools {
		if t.successRate < threshold {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func snapshot(t *toolState) schemas.ToolHealthRecord {
	return schemas.ToolHealthRecord{
		ToolName:        t.name,
		SuccessRate:     t.successRate,
		AvgResponseTime: time.Duration(t.avgResponse * float64(time.Second)),
		BaselineTime:    time.Duration(t.baseline * float64(time.Second)),
		SampleCount:     t.samples,
		FailureCount:    t.failures,
		DriftDetected:   t.drift,
		LastFailure:     t.lastFailure,
		LastUpdated:     t.lastUpdated,
	}
}
