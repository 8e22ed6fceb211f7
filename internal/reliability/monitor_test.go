package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testReliabilityConfig() config.ReliabilityConfig {
	return config.ReliabilityConfig{
		Threshold:       0.85,
		DriftPercent:    15.0,
		SmoothingAlpha:  0.1,
		BaselineSamples: 5,
	}
}

func TestFreshToolStartsHealthy(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())
	m.RegisterTool("scrape_data")

	record, ok := m.ToolHealth("scrape_data")
	require.True(t, ok)
	assert.Equal(t, 1.0, record.SuccessRate)
	assert.Equal(t, int64(0), record.SampleCount)
	assert.False(t, record.DriftDetected)
}

func TestRecordExecutionSmoothing(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())

	// One failure from a perfect record: 0.1*0 + 0.9*1.0 = 0.9.
	m.RecordExecution("tool", false, 100*time.Millisecond)
	record, ok := m.ToolHealth("tool")
	require.True(t, ok)
	assert.InDelta(t, 0.9, record.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), record.FailureCount)
	assert.False(t, record.LastFailure.IsZero())

	// A success pulls it back up: 0.1*1 + 0.9*0.9 = 0.91.
	m.RecordExecution("tool", true, 100*time.Millisecond)
	record, _ = m.ToolHealth("tool")
	assert.InDelta(t, 0.91, record.SuccessRate, 1e-9)
}

func TestSuccessRateMonotoneUnderFailures(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())
	m.RegisterTool("tool")

	prev := 1.0
	for i := 0; i < 50; i++ {
		m.RecordExecution("tool", false, 50*time.Millisecond)
		record, _ := m.ToolHealth("tool")
		assert.Less(t, record.SuccessRate, prev, "consecutive failures must strictly decrease the rate")
		assert.GreaterOrEqual(t, record.SuccessRate, 0.0)
		prev = record.SuccessRate
	}
}

func TestUnreliableAlertFiresOnceOnTransition(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())

	var alerts []Alert
	m.AddAlertCallback(func(a Alert) {
		if a.Metric == "reliability" {
			alerts = append(alerts, a)
		}
	})

	// Drive the rate below 0.85; with alpha 0.1 that takes two failures.
	for i := 0; i < 5; i++ {
		m.RecordExecution("tool", false, 50*time.Millisecond)
	}

	require.Len(t, alerts, 1, "the alert fires on the crossing, not on every sample below threshold")
	assert.Equal(t, "tool", alerts[0].ToolName)
	assert.GreaterOrEqual(t, alerts[0].OldValue, 0.85)
	assert.Less(t, alerts[0].NewValue, 0.85)

	assert.Equal(t, []string{"tool"}, m.UnreliableTools(0.85))
}

func TestDriftDetection(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())

	var driftAlerts []Alert
	m.AddAlertCallback(func(a Alert) {
		if a.Metric == "response_time_drift" {
			driftAlerts = append(driftAlerts, a)
		}
	})

	// Establish a 100ms baseline over the first five samples.
	for i := 0; i < 5; i++ {
		m.RecordExecution("tool", true, 100*time.Millisecond)
	}
	record, _ := m.ToolHealth("tool")
	assert.InDelta(t, 0.1, record.BaselineTime.Seconds(), 0.01)
	assert.False(t, record.DriftDetected)

	// Sustained slow responses push the moving average past baseline*1.15.
	for i := 0; i < 40; i++ {
		m.RecordExecution("tool", true, 500*time.Millisecond)
	}
	record, _ = m.ToolHealth("tool")
	assert.True(t, record.DriftDetected)
	require.Len(t, driftAlerts, 1)
	assert.Equal(t, "tool", driftAlerts[0].ToolName)
}

func TestNoDriftWithinBaselineWindow(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())

	// Wildly varying samples inside the window must not flag drift; the
	// baseline does not even exist yet.
	for _, d := range []time.Duration{10 * time.Millisecond, time.Second, 5 * time.Millisecond} {
		m.RecordExecution("tool", true, d)
	}
	record, _ := m.ToolHealth("tool")
	assert.False(t, record.DriftDetected)
	assert.Zero(t, record.BaselineTime)
}

func TestPerformanceThresholdAlert(t *testing.T) {
	cfg := testReliabilityConfig()
	cfg.PerformanceThreshold = 200 * time.Millisecond
	m := New(cfg, zap.NewNop())

	var slowAlerts []Alert
	m.AddAlertCallback(func(a Alert) {
		if a.Metric == "response_time_threshold" {
			slowAlerts = append(slowAlerts, a)
		}
	})

	// A consistently slow tool breaches the absolute cap even though its
	// average never drifts from its own baseline.
	for i := 0; i < 30; i++ {
		m.RecordExecution("tool", true, 400*time.Millisecond)
	}

	require.Len(t, slowAlerts, 1, "the alert fires once on the crossing")
	assert.Greater(t, slowAlerts[0].NewValue, 0.2)

	record, _ := m.ToolHealth("tool")
	assert.False(t, record.DriftDetected)
}

func TestCallbackPanicContained(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())

	m.AddAlertCallback(func(a Alert) {
		panic("bad callback")
	})
	var after []Alert
	m.AddAlertCallback(func(a Alert) {
		after = append(after, a)
	})

	require.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			m.RecordExecution("tool", false, 50*time.Millisecond)
		}
	})
	assert.NotEmpty(t, after, "callbacks after the panicking one still run")
}

func TestAllToolHealthSorted(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		m.RegisterTool(name)
	}

	records := m.AllToolHealth()
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].ToolName)
	assert.Equal(t, "mid", records[1].ToolName)
	assert.Equal(t, "zeta", records[2].ToolName)
}

func TestUnreliableToolsThreshold(t *testing.T) {
	m := New(testReliabilityConfig(), zap.NewNop())
	m.RegisterTool("healthy")
	for i := 0; i < 10; i++ {
		m.RecordExecution("flaky", i%2 == 0, 50*time.Millisecond)
	}

	assert.Empty(t, m.UnreliableTools(0.1))
	assert.Equal(t, []string{"flaky"}, m.UnreliableTools(0.85))
}
