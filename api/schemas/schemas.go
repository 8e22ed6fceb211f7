// Package schemas defines the shared domain types exchanged between the
// pipeline components: plans, constraints, simulation paths, approval
// requests, tool health records and execution results.
package schemas

import (
	"fmt"
	"time"
)

// ConstraintKind identifies which real-world limit a constraint enforces.
type ConstraintKind string

const (
	ConstraintTime       ConstraintKind = "time"
	ConstraintBudget     ConstraintKind = "budget"
	ConstraintPermission ConstraintKind = "permission"
	ConstraintRegulation ConstraintKind = "regulation"
)

// Constraint represents a single real-world limit on plan execution.
// Hard constraints invalidate a plan on violation; soft constraints are
// recorded but do not block the pipeline by themselves.
type Constraint struct {
	Kind        ConstraintKind `json:"kind" yaml:"kind"`
	Limit       float64        `json:"limit" yaml:"limit"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Hard        bool           `json:"hard" yaml:"hard"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// ConstraintViolation captures a single failed constraint check.
type ConstraintViolation struct {
	Kind    ConstraintKind `json:"kind"`
	Value   string         `json:"value"`
	Limit   string         `json:"limit"`
	Hard    bool           `json:"hard"`
	Message string         `json:"message"`
}

// ValidationResult is the outcome of validating a plan against the full
// constraint set. Valid is false only when at least one hard constraint
// was violated; soft violations are still listed.
type ValidationResult struct {
	Valid       bool                  `json:"valid"`
	Violations  []ConstraintViolation `json:"violations"`
	Suggestions []string              `json:"suggestions,omitempty"`
}

// HardViolations returns only the violations that invalidate the plan.
func (r ValidationResult) HardViolations() []ConstraintViolation {
	var hard []ConstraintViolation
	for _, v := range r.Violations {
		if v.Hard {
			hard = append(hard, v)
		}
	}
	return hard
}

// Step is a single action within a plan. The core treats the parameter map
// as opaque; only Action is used to dispatch to a registered tool handler.
// Parallel marks the step as independent of its immediate neighbors, which
// allows the execution engine to run consecutive parallel steps concurrently.
type Step struct {
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Parallel bool           `json:"parallel,omitempty"`
}

// Plan is an agent-proposed sequence of tool-invoking steps with declared
// resource estimates. A plan is immutable once submitted to the pipeline;
// resubmission after modification is a fresh pipeline run.
type Plan struct {
	ID                  string         `json:"id"`
	Description         string         `json:"description"`
	Steps               []Step         `json:"steps"`
	EstimatedTime       int64          `json:"estimated_time"` // seconds
	EstimatedCost       float64        `json:"estimated_cost"`
	RequiredPermissions []string       `json:"required_permissions,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Validate performs structural sanity checks on the plan document itself,
// independent of any configured constraints.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id must not be empty")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.ID)
	}
	if p.EstimatedTime < 0 {
		return fmt.Errorf("plan %q has negative estimated_time %d", p.ID, p.EstimatedTime)
	}
	if p.EstimatedCost < 0 {
		return fmt.Errorf("plan %q has negative estimated_cost %f", p.ID, p.EstimatedCost)
	}
	for i, s := range p.Steps {
		if s.Action == "" {
			return fmt.Errorf("plan %q step %d has no action", p.ID, i)
		}
	}
	return nil
}

// RiskLevel is an ordered qualitative bucket summarizing simulated outcome
// danger. The integer ordering (Low < Medium < High < Critical) is relied on
// for escalation, so new levels must preserve it.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risklevel(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler so risk levels serialize as
// their lowercase names in JSON and YAML.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*r = RiskLow
	case "medium":
		*r = RiskMedium
	case "high":
		*r = RiskHigh
	case "critical":
		*r = RiskCritical
	default:
		return fmt.Errorf("unknown risk level %q", string(text))
	}
	return nil
}

// MaxRiskLevel reduces a set of levels to the highest one reached. It is the
// single escalation primitive used by the simulator's risk classification.
func MaxRiskLevel(levels ...RiskLevel) RiskLevel {
	max := RiskLow
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}

// Likelihood is a qualitative probability bucket attached to a failure mode.
type Likelihood string

const (
	LikelihoodRare     Likelihood = "rare"
	LikelihoodPossible Likelihood = "possible"
	LikelihoodLikely   Likelihood = "likely"
)

// FailureMode is a labeled way a simulated path can go wrong.
type FailureMode struct {
	Label      string     `json:"label"`
	Likelihood Likelihood `json:"likelihood"`
}

// SimulationPath is one weighted alternative execution outcome for a plan.
type SimulationPath struct {
	ID                 string        `json:"id"`
	Scenario           string        `json:"scenario"`
	SuccessProbability float64       `json:"success_probability"`
	EstimatedTime      int64         `json:"estimated_time"` // seconds
	EstimatedCost      float64       `json:"estimated_cost"`
	Risk               RiskLevel     `json:"risk_level"`
	FailureModes       []FailureMode `json:"failure_modes,omitempty"`
	SecondOrderEffects []string      `json:"second_order_effects,omitempty"`
}

// Resolution distinguishes how an approval request reached its decision.
// A timed-out request is deliberately distinct from an explicit rejection so
// callers can tell "human said no" apart from "nobody answered".
type Resolution string

const (
	ResolutionApproved     Resolution = "approved"
	ResolutionRejected     Resolution = "rejected"
	ResolutionTimedOut     Resolution = "timed_out"
	ResolutionAutoApproved Resolution = "auto_approved"
)

// ApprovalRequest carries everything a human needs to decide whether a risky
// plan may proceed. Context holds display-ready summary fields only.
type ApprovalRequest struct {
	ID                  string            `json:"id"`
	PlanID              string            `json:"plan_id"`
	Risk                RiskLevel         `json:"risk_level"`
	EstimatedCost       float64           `json:"estimated_cost"`
	EstimatedTime       int64             `json:"estimated_time"` // seconds
	SuccessProbability  float64           `json:"success_probability"`
	Urgency             string            `json:"urgency"`
	RecommendedApprover string            `json:"recommended_approver"`
	Context             map[string]string `json:"context,omitempty"`
	RequestedAt         time.Time         `json:"requested_at"`
	Timeout             time.Duration     `json:"timeout"`
}

// ApprovalDecision is the single resolution of an approval request.
type ApprovalDecision struct {
	RequestID  string     `json:"request_id"`
	Approved   bool       `json:"approved"`
	Resolution Resolution `json:"resolution"`
	Approver   string     `json:"approver,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	DecidedAt  time.Time  `json:"decided_at"`
}

// ToolHealthRecord is a point-in-time snapshot of a tool's rolling health.
type ToolHealthRecord struct {
	ToolName        string        `json:"tool_name"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	BaselineTime    time.Duration `json:"baseline_response_time"`
	SampleCount     int64         `json:"sample_count"`
	FailureCount    int64         `json:"failure_count"`
	DriftDetected   bool          `json:"drift_detected"`
	LastFailure     time.Time     `json:"last_failure,omitzero"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// TerminalReason explains why an execution run ended.
type TerminalReason string

const (
	TerminalCompleted     TerminalReason = "completed"
	TerminalStepFailed    TerminalReason = "step_failed"
	TerminalUnknownAction TerminalReason = "unknown_action"
	TerminalCancelled     TerminalReason = "cancelled"
)

// StepOutcome records how a single step went during execution.
type StepOutcome struct {
	Index    int           `json:"index"`
	Action   string        `json:"action"`
	Success  bool          `json:"success"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExecutionResult is the engine's report for a whole plan run.
type ExecutionResult struct {
	PlanID         string         `json:"plan_id"`
	Success        bool           `json:"success"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	Duration       time.Duration  `json:"duration"`
	ActualCost     float64        `json:"actual_cost"`
	StepsCompleted int            `json:"steps_completed"`
	TotalSteps     int            `json:"total_steps"`
	Outcomes       []StepOutcome  `json:"outcomes"`
	Reason         TerminalReason `json:"terminal_reason"`
	// Variance of actuals against the plan's declared estimates.
	TimeVariance float64 `json:"time_variance"`
	CostVariance float64 `json:"cost_variance"`
}

// PipelineStatus is the orchestrator-level outcome of a pipeline run.
type PipelineStatus string

const (
	StatusApproved         PipelineStatus = "approved"
	StatusRejected         PipelineStatus = "rejected"
	StatusAwaitingApproval PipelineStatus = "awaiting_approval"
	StatusExecuted         PipelineStatus = "executed"
	StatusFailed           PipelineStatus = "failed"
)

// Terminal reports whether the status ends the pipeline run. A plan observed
// at a terminal status cannot re-enter; resubmission is a fresh run.
func (s PipelineStatus) Terminal() bool {
	return s != StatusAwaitingApproval
}
