// Package orchestrator drives the four-stage decision pipeline: constraint
// validation, scenario simulation, risk-gated approval and monitored
// execution. One Orchestrator serves many plans; each submission runs its
// own pipeline with no shared state except the reliability monitor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrTerminalPlan is returned when resuming a pipeline run that already
	// reached a terminal state. Resubmission is a fresh run, never a resume.
	ErrTerminalPlan = errors.New("pipeline run already terminal")

	// ErrUnknownRun is returned when resuming with an id the orchestrator
	// never suspended.
	ErrUnknownRun = errors.New("unknown suspended pipeline run")
)

// State names the pipeline stages for observability output.
type State string

const (
	StateIntake     State = "intake"
	StateValidating State = "validating"
	StateSimulating State = "simulating"
	StateApproving  State = "approving"
	StateApproved   State = "approved"
	StateExecuting  State = "executing"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

// -- Collaborator contracts (dependency inversion, mirrors the component
// packages; mocks implement these in tests) --

// Validator is the constraint validation gate.
type Validator interface {
	Validate(plan schemas.Plan) schemas.ValidationResult
}

// Simulator is the multi-path outcome projector.
type Simulator interface {
	Simulate(plan schemas.Plan, depth, numPaths int) []schemas.SimulationPath
	Recommend(paths []schemas.SimulationPath) (schemas.SimulationPath, error)
}

// Gate is the human approval stage.
type Gate interface {
	RequiresApproval(path schemas.SimulationPath) bool
	NewRequest(plan schemas.Plan, path schemas.SimulationPath) schemas.ApprovalRequest
	RequestApproval(ctx context.Context, plan schemas.Plan, path schemas.SimulationPath, approver schemas.Approver) (schemas.ApprovalDecision, error)
	Resolve(requestID string, approved bool, approver, reason string) (schemas.ApprovalDecision, error)
}

// Engine executes approved plans.
type Engine interface {
	ExecutePlan(ctx context.Context, plan schemas.Plan) schemas.ExecutionResult
}

// HealthSource exposes tool health for the system summary.
type HealthSource interface {
	UnreliableTools(threshold float64) []string
	AllToolHealth() []schemas.ToolHealthRecord
}

// SimulationStage is the retained output of the simulation stage.
type SimulationStage struct {
	PathsExplored   int                      `json:"paths_explored"`
	Paths           []schemas.SimulationPath `json:"paths"`
	RecommendedPath string                   `json:"recommended_path"`
}

// ApprovalStage is the retained output of the approval stage.
type ApprovalStage struct {
	Required  bool                      `json:"required"`
	RequestID string                    `json:"request_id,omitempty"`
	Decision  *schemas.ApprovalDecision `json:"decision,omitempty"`
}

// PipelineResult is the orchestrator's report for one pipeline run. Stages
// retains every stage's output for observability.
type PipelineResult struct {
	PlanID            string                   `json:"plan_id"`
	Status            schemas.PipelineStatus   `json:"status"`
	State             State                    `json:"state"`
	Reason            string                   `json:"reason,omitempty"`
	Stages            map[string]any           `json:"stages"`
	RecommendedPath   *schemas.SimulationPath  `json:"recommended_simulation,omitempty"`
	Execution         *schemas.ExecutionResult `json:"execution,omitempty"`
	ApprovalRequestID string                   `json:"approval_request_id,omitempty"`
}

// SystemHealth summarizes the orchestrator's view of the world.
type SystemHealth struct {
	TotalRuns       int64                      `json:"total_runs"`
	ApprovalsNeeded int64                      `json:"approvals_needed"`
	ApprovalRate    float64                    `json:"approval_rate"`
	ViolationCount  int64                      `json:"constraint_violations"`
	UnreliableTools []string                   `json:"unreliable_tools"`
	ToolHealth      []schemas.ToolHealthRecord `json:"tool_health"`
}

// suspendedRun is the resumable continuation of a pipeline parked in
// awaiting_approval. It carries everything needed to re-enter the state
// machine at Approving.
type suspendedRun struct {
	plan   schemas.Plan
	path   schemas.SimulationPath
	result *PipelineResult
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithEngine enables the execution stage. Without it the pipeline terminates
// at approved: gating-only mode, used by the validate command.
func WithEngine(engine Engine) Option {
	return func(o *Orchestrator) { o.engine = engine }
}

// WithPersister enables best-effort durable records of runs, violations and
// approval decisions.
func WithPersister(p schemas.Persister) Option {
	return func(o *Orchestrator) { o.persister = p }
}

// Orchestrator coordinates the pipeline components.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	validator Validator
	simulator Simulator
	gate      Gate
	health    HealthSource
	engine    Engine
	persister schemas.Persister

	mu              sync.Mutex
	suspended       map[string]*suspendedRun
	totalRuns       int64
	approvalsNeeded int64
	violationCount  int64
}

// New creates an Orchestrator. The four gate components are mandatory;
// execution and persistence are options.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	validator Validator,
	simulator Simulator,
	gate Gate,
	health HealthSource,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || validator == nil || simulator == nil || gate == nil || health == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "orchestrator")),
		validator: validator,
		simulator: simulator,
		gate:      gate,
		health:    health,
		suspended: make(map[string]*suspendedRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ExecutePlan runs the full pipeline for one plan. With a nil approver a
// plan that needs sign-off suspends in awaiting_approval; the caller resumes
// it later through ResumeApproval. Stage outputs are always retained on the
// result, including for rejected plans.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan schemas.Plan, approver schemas.Approver) (*PipelineResult, error) {
	logger := o.logger.With(zap.String("plan_id", plan.ID))
	result := &PipelineResult{
		PlanID: plan.ID,
		State:  StateIntake,
		Stages: make(map[string]any),
	}

	o.mu.Lock()
	o.totalRuns++
	o.mu.Unlock()

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("plan failed intake: %w", err)
	}

	// Stage 1: constraint validation.
	result.State = StateValidating
	validation := o.validator.Validate(plan)
	result.Stages["constraint_validation"] = validation

	if n := len(validation.Violations); n > 0 {
		o.mu.Lock()
		o.violationCount += int64(n)
		o.mu.Unlock()
		o.persistViolations(ctx, plan.ID, validation.Violations)
	}

	if !validation.Valid {
		logger.Info("Plan rejected by constraint validation",
			zap.Int("violations", len(validation.Violations)))
		result.State = StateRejected
		result.Status = schemas.StatusRejected
		result.Reason = "constraint violations"
		o.persistRun(ctx, result)
		return result, nil
	}

	// Stage 2: scenario simulation.
	result.State = StateSimulating
	paths := o.simulator.Simulate(plan, o.cfg.Simulation.Depth, o.cfg.Simulation.NumPaths)
	recommended, err := o.simulator.Recommend(paths)
	if err != nil {
		return nil, fmt.Errorf("simulation produced no usable path: %w", err)
	}
	result.Stages["simulation"] = SimulationStage{
		PathsExplored:   len(paths),
		Paths:           paths,
		RecommendedPath: recommended.ID,
	}
	result.RecommendedPath = &recommended

	// Stage 3: approval.
	result.State = StateApproving
	required := o.gate.RequiresApproval(recommended)
	stage := ApprovalStage{Required: required}

	if required {
		o.mu.Lock()
		o.approvalsNeeded++
		o.mu.Unlock()

		if approver == nil && !o.cfg.Approval.AutoApprove {
			// Suspend: no one to ask right now. The run parks as a resumable
			// continuation rather than a blocked goroutine.
			req := o.gate.NewRequest(plan, recommended)
			stage.RequestID = req.ID
			result.Stages["approval"] = stage
			result.Status = schemas.StatusAwaitingApproval
			result.ApprovalRequestID = req.ID

			o.mu.Lock()
			o.suspended[req.ID] = &suspendedRun{plan: plan, path: recommended, result: result}
			o.mu.Unlock()

			logger.Info("Plan awaiting approval", zap.String("request_id", req.ID))
			o.persistRun(ctx, result)
			return result, nil
		}

		decision, err := o.gate.RequestApproval(ctx, plan, recommended, approver)
		if err != nil {
			return nil, fmt.Errorf("approval stage failed: %w", err)
		}
		stage.RequestID = decision.RequestID
		stage.Decision = &decision
		result.Stages["approval"] = stage
		o.persistDecision(ctx, decision)

		if !decision.Approved {
			logger.Info("Plan rejected at approval gate",
				zap.String("resolution", string(decision.Resolution)))
			result.State = StateRejected
			result.Status = schemas.StatusRejected
			result.Reason = rejectionReason(decision)
			o.persistRun(ctx, result)
			return result, nil
		}
	} else {
		result.Stages["approval"] = stage
	}

	result.State = StateApproved
	result.Status = schemas.StatusApproved
	return o.maybeExecute(ctx, plan, result, logger)
}

// ResumeApproval settles a suspended run with the human's decision and, on
// approval, drives the pipeline through to completion. A second resume of
// the same request fails; so does resuming a run that never suspended.
func (o *Orchestrator) ResumeApproval(ctx context.Context, requestID string, approved bool, approver, reason string) (*PipelineResult, error) {
	o.mu.Lock()
	run, ok := o.suspended[requestID]
	if ok {
		delete(o.suspended, requestID)
	}
	o.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, requestID)
	}
	if run.result.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalPlan, run.plan.ID)
	}

	decision, err := o.gate.Resolve(requestID, approved, approver, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval %s: %w", requestID, err)
	}
	o.persistDecision(ctx, decision)

	logger := o.logger.With(
		zap.String("plan_id", run.plan.ID),
		zap.String("request_id", requestID),
		zap.String("risk_level", run.path.Risk.String()),
	)
	result := run.result
	if stage, ok := result.Stages["approval"].(ApprovalStage); ok {
		stage.Decision = &decision
		result.Stages["approval"] = stage
	}

	if !decision.Approved {
		logger.Info("Suspended plan rejected on resume")
		result.State = StateRejected
		result.Status = schemas.StatusRejected
		result.Reason = rejectionReason(decision)
		o.persistRun(ctx, result)
		return result, nil
	}

	result.State = StateApproved
	result.Status = schemas.StatusApproved
	return o.maybeExecute(ctx, run.plan, result, logger)
}

// maybeExecute delegates to the execution engine when one is wired in.
// Without an engine the pipeline terminates at approved.
func (o *Orchestrator) maybeExecute(ctx context.Context, plan schemas.Plan, result *PipelineResult, logger *zap.Logger) (*PipelineResult, error) {
	if o.engine == nil {
		logger.Info("Plan approved (gating-only mode)")
		o.persistRun(ctx, result)
		return result, nil
	}

	result.State = StateExecuting
	exec := o.engine.ExecutePlan(ctx, plan)
	result.Execution = &exec
	result.Stages["execution"] = exec

	if exec.Success {
		result.State = StateCompleted
		result.Status = schemas.StatusExecuted
	} else {
		result.State = StateFailed
		result.Status = schemas.StatusFailed
		result.Reason = string(exec.Reason)
	}
	logger.Info("Pipeline finished",
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason))
	o.persistRun(ctx, result)
	return result, nil
}

// PendingApprovals lists the request ids of currently suspended runs.
func (o *Orchestrator) PendingApprovals() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.suspended))
	for id := range o.suspended {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the system health summary.
func (o *Orchestrator) Health() SystemHealth {
	o.mu.Lock()
	total := o.totalRuns
	needed := o.approvalsNeeded
	violations := o.violationCount
	o.mu.Unlock()

	rate := 0.0
	if total > 0 {
		rate = float64(needed) / float64(total)
	}
	return SystemHealth{
		TotalRuns:       total,
		ApprovalsNeeded: needed,
		ApprovalRate:    rate,
		ViolationCount:  violations,
		UnreliableTools: o.health.UnreliableTools(o.cfg.Reliability.Threshold),
		ToolHealth:      o.health.AllToolHealth(),
	}
}

func rejectionReason(d schemas.ApprovalDecision) string {
	if d.Resolution == schemas.ResolutionTimedOut {
		return "approval timed out"
	}
	return "human approval denied"
}

// -- best-effort persistence; failures are logged, never fatal --

func (o *Orchestrator) persistRun(ctx context.Context, result *PipelineResult) {
	if o.persister == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Error("Failed to serialize pipeline result", zap.String("plan_id", result.PlanID), zap.Error(err))
		payload = []byte("{}")
	}
	if err := o.persister.SaveRun(ctx, result.PlanID, result.Status, payload); err != nil {
		o.logger.Error("Failed to persist pipeline run", zap.String("plan_id", result.PlanID), zap.Error(err))
	}
}

func (o *Orchestrator) persistViolations(ctx context.Context, planID string, violations []schemas.ConstraintViolation) {
	if o.persister == nil {
		return
	}
	if err := o.persister.SaveViolations(ctx, planID, violations); err != nil {
		o.logger.Error("Failed to persist violations", zap.String("plan_id", planID), zap.Error(err))
	}
}

func (o *Orchestrator) persistDecision(ctx context.Context, decision schemas.ApprovalDecision) {
	if o.persister == nil {
		return
	}
	if err := o.persister.SaveDecision(ctx, decision); err != nil {
		o.logger.Error("Failed to persist approval decision", zap.String("request_id", decision.RequestID), zap.Error(err))
	}
}
