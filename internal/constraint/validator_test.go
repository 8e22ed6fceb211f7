package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
)

func defaultConstraintsConfig() config.ConstraintsConfig {
	return config.ConstraintsConfig{
		TimeLimit:   3600,
		Budget:      100.0,
		Permissions: []string{"read", "write"},
	}
}

func basePlan() schemas.Plan {
	return schemas.Plan{
		ID:            "plan-1",
		Description:   "fetch and summarize",
		Steps:         []schemas.Step{{Action: "scrape_data"}},
		EstimatedTime: 600,
		EstimatedCost: 10.0,
	}
}

func TestValidateCompliantPlan(t *testing.T) {
	v := New(FromConfig(defaultConstraintsConfig()))

	result := v.Validate(basePlan())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.Suggestions)
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	v := New(FromConfig(defaultConstraintsConfig()))

	plan := basePlan()
	plan.EstimatedTime = 7200
	plan.EstimatedCost = 250.0
	plan.RequiredPermissions = []string{"admin", "read"}

	result := v.Validate(plan)

	require.False(t, result.Valid)
	require.Len(t, result.Violations, 3, "every violated constraint must be reported, not just the first")

	kinds := make(map[schemas.ConstraintKind]bool)
	for _, violation := range result.Violations {
		kinds[violation.Kind] = true
		assert.True(t, violation.Hard)
	}
	assert.True(t, kinds[schemas.ConstraintTime])
	assert.True(t, kinds[schemas.ConstraintBudget])
	assert.True(t, kinds[schemas.ConstraintPermission])

	assert.Len(t, result.Suggestions, 3)
}

func TestValidateBoundaryValues(t *testing.T) {
	// Exactly at the limit is compliant; only exceeding it violates.
	v := New(FromConfig(defaultConstraintsConfig()))

	plan := basePlan()
	plan.EstimatedTime = 3600
	plan.EstimatedCost = 100.0

	result := v.Validate(plan)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)

	plan.EstimatedTime = 3601
	result = v.Validate(plan)
	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, schemas.ConstraintTime, result.Violations[0].Kind)
}

func TestValidateSoftTimeLimit(t *testing.T) {
	cfg := defaultConstraintsConfig()
	cfg.SoftTimeLimit = true
	v := New(FromConfig(cfg))

	plan := basePlan()
	plan.EstimatedTime = 7200

	result := v.Validate(plan)

	assert.True(t, result.Valid, "a soft violation must not invalidate the plan")
	require.Len(t, result.Violations, 1)
	assert.False(t, result.Violations[0].Hard)
	assert.Empty(t, result.HardViolations())
}

func TestValidatePermissionSubset(t *testing.T) {
	v := New(FromConfig(defaultConstraintsConfig()))

	t.Run("subset of allowed permissions passes", func(t *testing.T) {
		plan := basePlan()
		plan.RequiredPermissions = []string{"read"}
		assert.True(t, v.Validate(plan).Valid)
	})

	t.Run("any missing permission fails", func(t *testing.T) {
		plan := basePlan()
		plan.RequiredPermissions = []string{"read", "delete", "admin"}
		result := v.Validate(plan)
		require.False(t, result.Valid)
		require.Len(t, result.Violations, 1)
		// Missing permissions are sorted for stable output.
		assert.Equal(t, "[admin delete]", result.Violations[0].Value)
	})
}

func TestValidateRegulationTags(t *testing.T) {
	cfg := defaultConstraintsConfig()
	cfg.RegulationTags = []string{"gdpr_compliant", "audit_logged"}
	v := New(FromConfig(cfg))

	tests := []struct {
		name     string
		metadata map[string]any
		valid    bool
	}{
		{"all tags truthy bool", map[string]any{"gdpr_compliant": true, "audit_logged": true}, true},
		{"string forms accepted", map[string]any{"gdpr_compliant": "true", "audit_logged": "yes"}, true},
		{"missing tag fails", map[string]any{"gdpr_compliant": true}, false},
		{"false tag fails", map[string]any{"gdpr_compliant": true, "audit_logged": false}, false},
		{"non-boolean value fails", map[string]any{"gdpr_compliant": true, "audit_logged": 1}, false},
		{"nil metadata fails", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := basePlan()
			plan.Metadata = tc.metadata
			assert.Equal(t, tc.valid, v.Validate(plan).Valid)
		})
	}
}

func TestValidateIsPure(t *testing.T) {
	v := New(FromConfig(defaultConstraintsConfig()))
	plan := basePlan()
	plan.EstimatedCost = 250.0

	first := v.Validate(plan)
	second := v.Validate(plan)

	assert.Equal(t, first, second, "validation must be a pure function of the plan")
	assert.Equal(t, 250.0, plan.EstimatedCost, "validation must never mutate the plan")
}

func TestFromConfigOmitsRegulationWithoutTags(t *testing.T) {
	constraints := FromConfig(defaultConstraintsConfig())
	for _, c := range constraints {
		assert.NotEqual(t, schemas.ConstraintRegulation, c.Kind)
	}
	assert.Len(t, constraints, 3)
}
