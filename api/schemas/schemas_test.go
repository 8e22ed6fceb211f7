package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanValidate(t *testing.T) {
	valid := Plan{
		ID:    "plan-1",
		Steps: []Step{{Action: "scrape_data"}},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"empty id", func(p *Plan) { p.ID = "" }},
		{"no steps", func(p *Plan) { p.Steps = nil }},
		{"negative time", func(p *Plan) { p.EstimatedTime = -1 }},
		{"negative cost", func(p *Plan) { p.EstimatedCost = -0.5 }},
		{"step without action", func(p *Plan) { p.Steps = []Step{{}} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := valid
			tc.mutate(&plan)
			assert.Error(t, plan.Validate())
		})
	}
}

func TestRiskLevelOrderingAndText(t *testing.T) {
	assert.True(t, RiskLow < RiskMedium && RiskMedium < RiskHigh && RiskHigh < RiskCritical)
	assert.Equal(t, RiskCritical, MaxRiskLevel(RiskLow, RiskCritical, RiskMedium))
	assert.Equal(t, RiskLow, MaxRiskLevel())

	for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		text, err := level.MarshalText()
		require.NoError(t, err)

		var back RiskLevel
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, level, back)
	}

	var bad RiskLevel
	assert.Error(t, bad.UnmarshalText([]byte("catastrophic")))
}

func TestPipelineStatusTerminal(t *testing.T) {
	for _, status := range []PipelineStatus{StatusApproved, StatusRejected, StatusExecuted, StatusFailed} {
		assert.True(t, status.Terminal(), string(status))
	}
	assert.False(t, StatusAwaitingApproval.Terminal())
}
