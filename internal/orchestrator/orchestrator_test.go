package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/approval"
	"github.com/xkilldash9x/tether-cli/internal/config"
	"github.com/xkilldash9x/tether-cli/internal/constraint"
	"github.com/xkilldash9x/tether-cli/internal/execution"
	"github.com/xkilldash9x/tether-cli/internal/reliability"
	"github.com/xkilldash9x/tether-cli/internal/simulation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testHarness struct {
	orch    *Orchestrator
	engine  *execution.Engine
	monitor *reliability.Monitor
	gate    *approval.Gate
}

// newHarness wires real components end to end; only the approver and the
// tool handlers are test doubles.
func newHarness(t *testing.T, cfg *config.Config, withEngine bool) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	validator := constraint.New(constraint.FromConfig(cfg.Constraints))
	simulator := simulation.New(cfg.Simulation, simulation.RiskThresholds{
		LowSuccess:   cfg.Approval.LowSuccessThreshold,
		HighCost:     cfg.Approval.HighCostThreshold,
		LongDuration: cfg.Approval.LongDurationThreshold,
	}, logger)
	gate := approval.New(cfg.Approval, logger)
	monitor := reliability.New(cfg.Reliability, logger)

	h := &testHarness{monitor: monitor, gate: gate}

	var opts []Option
	if withEngine {
		engine := execution.New(cfg.Engine, monitor, logger)
		for _, action := range []string{"scrape_data", "analyze_data", "generate_report"} {
			require.NoError(t, engine.RegisterTool(action, func(ctx context.Context, step schemas.Step) schemas.ToolResult {
				return schemas.ToolResult{Success: true, Cost: 1.0}
			}))
		}
		h.engine = engine
		opts = append(opts, WithEngine(engine))
	}

	orch, err := New(cfg, logger, validator, simulator, gate, monitor, opts...)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Approval.Timeout = 200 * time.Millisecond
	return cfg
}

func compliantPlan() schemas.Plan {
	return schemas.Plan{
		ID:          "plan-compliant",
		Description: "short low-cost read-only workload",
		Steps: []schemas.Step{
			{Action: "scrape_data"},
			{Action: "analyze_data"},
			{Action: "generate_report"},
		},
		EstimatedTime:       600,
		EstimatedCost:       5.0,
		RequiredPermissions: []string{"read"},
	}
}

func TestPipelineRejectsBudgetViolation(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	plan := compliantPlan()
	plan.ID = "plan-overbudget"
	plan.EstimatedCost = 150.0 // default budget is 100

	result, err := h.orch.ExecutePlan(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusRejected, result.Status)
	assert.Equal(t, StateRejected, result.State)

	validation, ok := result.Stages["constraint_validation"].(schemas.ValidationResult)
	require.True(t, ok, "the validation stage output must be retained")
	require.NotEmpty(t, validation.Violations)
	assert.Equal(t, schemas.ConstraintBudget, validation.Violations[0].Kind)
	assert.NotEmpty(t, validation.Suggestions)

	// Rejection happens before simulation; no later stage output exists.
	assert.NotContains(t, result.Stages, "simulation")
	assert.Nil(t, result.RecommendedPath)
}

func TestPipelineRejectsOnMultipleViolations(t *testing.T) {
	cfg := testConfig()
	cfg.Constraints.Budget = 50.0
	cfg.Constraints.TimeLimit = 3600
	h := newHarness(t, cfg, true)

	plan := compliantPlan()
	plan.ID = "plan-doubly-bad"
	plan.EstimatedCost = 85.0
	plan.EstimatedTime = 7200

	result, err := h.orch.ExecutePlan(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusRejected, result.Status)
	assert.Nil(t, result.Execution, "the engine must never run for a rejected plan")

	validation, ok := result.Stages["constraint_validation"].(schemas.ValidationResult)
	require.True(t, ok)
	kinds := make(map[schemas.ConstraintKind]bool)
	for _, v := range validation.Violations {
		kinds[v.Kind] = true
	}
	assert.True(t, kinds[schemas.ConstraintBudget])
	assert.True(t, kinds[schemas.ConstraintTime])
}

func TestPipelineApprovesSafePlanWithoutHuman(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	tripwire := schemas.ApproverFunc(func(ctx context.Context, req schemas.ApprovalRequest) (bool, error) {
		t.Error("approval handler invoked for a low-risk plan")
		return false, nil
	})

	result, err := h.orch.ExecutePlan(context.Background(), compliantPlan(), tripwire)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusApproved, result.Status)
	assert.Equal(t, StateApproved, result.State)

	stage, ok := result.Stages["approval"].(ApprovalStage)
	require.True(t, ok)
	assert.False(t, stage.Required)

	sim, ok := result.Stages["simulation"].(SimulationStage)
	require.True(t, ok)
	assert.Equal(t, 3, sim.PathsExplored)
	require.NotNil(t, result.RecommendedPath)
	assert.Equal(t, sim.RecommendedPath, result.RecommendedPath.ID)
}

func riskyPlan() schemas.Plan {
	plan := compliantPlan()
	plan.ID = "plan-risky"
	plan.EstimatedCost = 80.0 // within budget, above the approval cost gate
	return plan
}

func TestPipelineRoutesRiskyPlanToApprover(t *testing.T) {
	t.Run("approved and executed", func(t *testing.T) {
		h := newHarness(t, testConfig(), true)

		var seen *schemas.ApprovalRequest
		approver := schemas.ApproverFunc(func(ctx context.Context, req schemas.ApprovalRequest) (bool, error) {
			seen = &req
			return true, nil
		})

		result, err := h.orch.ExecutePlan(context.Background(), riskyPlan(), approver)
		require.NoError(t, err)

		require.NotNil(t, seen, "the approval handler must receive the request")
		assert.Equal(t, "plan-risky", seen.PlanID)
		assert.NotEmpty(t, seen.Context["plan_summary"])

		assert.Equal(t, schemas.StatusExecuted, result.Status)
		assert.Equal(t, StateCompleted, result.State)
		require.NotNil(t, result.Execution)
		assert.True(t, result.Execution.Success)
		assert.Equal(t, 3, result.Execution.StepsCompleted)
	})

	t.Run("rejected", func(t *testing.T) {
		h := newHarness(t, testConfig(), true)

		result, err := h.orch.ExecutePlan(context.Background(), riskyPlan(), approval.RejectAll{})
		require.NoError(t, err)

		assert.Equal(t, schemas.StatusRejected, result.Status)
		assert.Nil(t, result.Execution, "a rejected plan must never execute")

		stage, ok := result.Stages["approval"].(ApprovalStage)
		require.True(t, ok)
		require.NotNil(t, stage.Decision)
		assert.Equal(t, schemas.ResolutionRejected, stage.Decision.Resolution)
	})
}

func TestPipelineSuspendAndResume(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	result, err := h.orch.ExecutePlan(context.Background(), riskyPlan(), nil)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusAwaitingApproval, result.Status)
	require.NotEmpty(t, result.ApprovalRequestID)
	assert.Contains(t, h.orch.PendingApprovals(), result.ApprovalRequestID)

	resumed, err := h.orch.ResumeApproval(context.Background(), result.ApprovalRequestID, true, "alex", "reviewed")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusExecuted, resumed.Status)
	require.NotNil(t, resumed.Execution)
	assert.True(t, resumed.Execution.Success)
	assert.Empty(t, h.orch.PendingApprovals())

	stage, ok := resumed.Stages["approval"].(ApprovalStage)
	require.True(t, ok)
	require.NotNil(t, stage.Decision)
	assert.Equal(t, "alex", stage.Decision.Approver)
}

func TestPipelineResumeRejection(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	result, err := h.orch.ExecutePlan(context.Background(), riskyPlan(), nil)
	require.NoError(t, err)
	require.Equal(t, schemas.StatusAwaitingApproval, result.Status)

	resumed, err := h.orch.ResumeApproval(context.Background(), result.ApprovalRequestID, false, "alex", "too costly")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusRejected, resumed.Status)
	assert.Nil(t, resumed.Execution)
}

func TestResumeUnknownAndTerminalRuns(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	t.Run("unknown request id", func(t *testing.T) {
		_, err := h.orch.ResumeApproval(context.Background(), "never-issued", true, "alex", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownRun)
	})

	t.Run("double resume", func(t *testing.T) {
		result, err := h.orch.ExecutePlan(context.Background(), riskyPlan(), nil)
		require.NoError(t, err)

		_, err = h.orch.ResumeApproval(context.Background(), result.ApprovalRequestID, true, "alex", "")
		require.NoError(t, err)

		_, err = h.orch.ResumeApproval(context.Background(), result.ApprovalRequestID, true, "sam", "")
		require.Error(t, err, "a settled run cannot be resumed again")
		assert.ErrorIs(t, err, ErrUnknownRun)
	})
}

func TestPipelineIntakeRejectsMalformedPlan(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	_, err := h.orch.ExecutePlan(context.Background(), schemas.Plan{ID: "plan-empty"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake")
}

func TestPipelineExecutionFailureStatus(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, true)

	require.NoError(t, h.engine.RegisterTool("always_fails", func(ctx context.Context, step schemas.Step) schemas.ToolResult {
		return schemas.ToolResult{Error: "boom"}
	}))

	plan := compliantPlan()
	plan.ID = "plan-exec-fail"
	plan.Steps = []schemas.Step{{Action: "scrape_data"}, {Action: "always_fails"}}

	result, err := h.orch.ExecutePlan(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, string(schemas.TerminalStepFailed), result.Reason)
	require.NotNil(t, result.Execution)
	assert.Equal(t, 1, result.Execution.StepsCompleted)
}

func TestHealthSummaryCounts(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	// One clean run, one constraint rejection, one approval-gated run.
	_, err := h.orch.ExecutePlan(ctx, compliantPlan(), nil)
	require.NoError(t, err)

	overBudget := compliantPlan()
	overBudget.ID = "plan-overbudget"
	overBudget.EstimatedCost = 150.0
	_, err = h.orch.ExecutePlan(ctx, overBudget, nil)
	require.NoError(t, err)

	_, err = h.orch.ExecutePlan(ctx, riskyPlan(), approval.AutoApprover{})
	require.NoError(t, err)

	health := h.orch.Health()
	assert.Equal(t, int64(3), health.TotalRuns)
	assert.Equal(t, int64(1), health.ApprovalsNeeded)
	assert.InDelta(t, 1.0/3.0, health.ApprovalRate, 1e-9)
	assert.Equal(t, int64(1), health.ViolationCount)
	assert.NotEmpty(t, health.ToolHealth, "registered tools appear in the summary")
}
