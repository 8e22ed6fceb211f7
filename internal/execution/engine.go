// Package execution runs approved plans step by step, dispatching each
// action to its registered tool handler and reporting every outcome into the
// reliability monitor.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
	"github.com/xkilldash9x/tether-cli/internal/reliability"
)

// stepResult pairs a step outcome with its machine-readable failure code.
type stepResult struct {
	outcome  schemas.StepOutcome
	code     ErrorCode
	executed bool
}

// Engine executes plans. Steps run sequentially in declaration order;
// consecutive steps marked Parallel form a batch that runs concurrently,
// bounded by the configured worker concurrency. Pool exhaustion applies
// backpressure rather than failing steps.
type Engine struct {
	cfg     config.EngineConfig
	logger  *zap.Logger
	monitor *reliability.Monitor
	limiter *rate.Limiter

	mu       sync.RWMutex
	registry map[string]schemas.ToolHandler
}

// New creates an Engine bound to a reliability monitor.
func New(cfg config.EngineConfig, monitor *reliability.Monitor, logger *zap.Logger) *Engine {
	var limiter *rate.Limiter
	if cfg.StepRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StepRateLimit), 1)
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "execution_engine")),
		monitor:  monitor,
		limiter:  limiter,
		registry: make(map[string]schemas.ToolHandler),
	}
}

// RegisterTool binds an action name to its handler and registers the tool
// with the reliability monitor. Re-registering replaces the handler.
func (e *Engine) RegisterTool(action string, handler schemas.ToolHandler) error {
	if action == "" {
		return fmt.Errorf("action name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for action %q must not be nil", action)
	}

	e.mu.Lock()
	e.registry[action] = handler
	e.mu.Unlock()

	e.monitor.RegisterTool(action)
	e.logger.Debug("Tool registered", zap.String("action", action))
	return nil
}

// RegisteredActions returns the action names with handlers, for diagnostics.
func (e *Engine) RegisteredActions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	actions := make([]string, 0, len(e.registry))
	for a := range e.registry {
		actions = append(actions, a)
	}
	return actions
}

func (e *Engine) handler(action string) (schemas.ToolHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.registry[action]
	return h, ok
}

// ExecutePlan runs every step of the plan and returns the aggregate result.
// A handler failure aborts the run unless continue-on-failure is configured;
// an unknown action always aborts. Cancellation takes effect between steps:
// in-flight handlers finish, already-completed outcomes are preserved, and
// the run terminates with the cancelled reason.
func (e *Engine) ExecutePlan(ctx context.Context, plan schemas.Plan) schemas.ExecutionResult {
	start := time.Now().UTC()
	logger := e.logger.With(zap.String("plan_id", plan.ID))
	logger.Info("Plan execution starting", zap.Int("steps", len(plan.Steps)))

	result := schemas.ExecutionResult{
		PlanID:     plan.ID,
		StartedAt:  start,
		TotalSteps: len(plan.Steps),
		Reason:     schemas.TerminalCompleted,
	}

	results := make([]stepResult, len(plan.Steps))

batches:
	for _, batch := range batchSteps(plan.Steps) {
		if ctx.Err() != nil {
			result.Reason = schemas.TerminalCancelled
			break
		}

		if len(batch) == 1 {
			idx := batch[0]
			results[idx] = e.runStep(ctx, plan, idx)
			if stop := e.classify(results[idx], &result); stop {
				break batches
			}
			continue
		}

		// Independent steps: run the whole batch concurrently under the
		// bounded pool, then evaluate outcomes in declaration order.
		sem := semaphore.NewWeighted(int64(e.cfg.WorkerConcurrency))
		var wg sync.WaitGroup
		for _, idx := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = cancelledResult(plan.Steps[idx], idx)
				continue
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer sem.Release(1)
				results[idx] = e.runStep(ctx, plan, idx)
			}(idx)
		}
		wg.Wait()

		for _, idx := range batch {
			if stop := e.classify(results[idx], &result); stop {
				break batches
			}
		}
	}

	for i := range results {
		if !results[i].executed {
			continue
		}
		result.Outcomes = append(result.Outcomes, results[i].outcome)
		if results[i].outcome.Success {
			result.StepsCompleted++
		}
		result.ActualCost += results[i].outcome.Cost
	}

	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(start)
	result.Success = result.Reason == schemas.TerminalCompleted && result.StepsCompleted == result.TotalSteps
	if !result.Success && result.Reason == schemas.TerminalCompleted {
		// Continue-on-failure ran everything but some steps still failed.
		result.Reason = schemas.TerminalStepFailed
	}
	result.TimeVariance = result.Duration.Seconds() - float64(plan.EstimatedTime)
	result.CostVariance = result.ActualCost - plan.EstimatedCost

	logger.Info("Plan execution finished",
		zap.Bool("success", result.Success),
		zap.String("reason", string(result.Reason)),
		zap.Int("steps_completed", result.StepsCompleted),
		zap.Float64("actual_cost", result.ActualCost),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// classify folds a step result into the run's terminal state. It returns
// true when the run must stop.
func (e *Engine) classify(r stepResult, result *schemas.ExecutionResult) bool {
	if r.outcome.Success {
		return false
	}
	switch r.code {
	case ErrCodeUnknownAction:
		result.Reason = schemas.TerminalUnknownAction
		return true
	case ErrCodeCancelled:
		result.Reason = schemas.TerminalCancelled
		return true
	default:
		if e.cfg.ContinueOnFailure {
			return false
		}
		result.Reason = schemas.TerminalStepFailed
		return true
	}
}

// runStep dispatches one step to its handler and reports the execution into
// the reliability monitor regardless of outcome.
func (e *Engine) runStep(ctx context.Context, plan schemas.Plan, idx int) stepResult {
	step := plan.Steps[idx]
	logger := e.logger.With(zap.String("plan_id", plan.ID), zap.Int("step", idx), zap.String("action", step.Action))

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return cancelledResult(step, idx)
		}
	}
	if ctx.Err() != nil {
		return cancelledResult(step, idx)
	}

	handler, ok := e.handler(step.Action)
	if !ok {
		logger.Error("No handler registered for action")
		return stepResult{
			outcome: schemas.StepOutcome{
				Index:  idx,
				Action: step.Action,
				Error:  fmt.Sprintf("%s: no handler registered for %q", ErrUnknownAction, step.Action),
			},
			code:     ErrCodeUnknownAction,
			executed: true,
		}
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	stepStart := time.Now()
	toolResult := handler(stepCtx, step)
	elapsed := time.Since(stepStart)

	responseTime := elapsed
	if toolResult.ResponseTime > 0 {
		responseTime = time.Duration(toolResult.ResponseTime * float64(time.Second))
	}
	e.monitor.RecordExecution(step.Action, toolResult.Success, responseTime)

	r := stepResult{
		outcome: schemas.StepOutcome{
			Index:    idx,
			Action:   step.Action,
			Success:  toolResult.Success,
			Cost:     toolResult.Cost,
			Duration: elapsed,
		},
		executed: true,
	}
	if !toolResult.Success {
		r.code = ErrCodeExecutionFailure
		msg := toolResult.Error
		if msg == "" {
			msg = "tool handler reported failure"
		}
		r.outcome.Error = msg
		logger.Warn("Step failed", zap.String("error", msg), zap.Duration("duration", elapsed))
	} else {
		logger.Debug("Step succeeded", zap.Duration("duration", elapsed), zap.Float64("cost", toolResult.Cost))
	}
	return r
}

func cancelledResult(step schemas.Step, idx int) stepResult {
	return stepResult{
		outcome: schemas.StepOutcome{
			Index:  idx,
			Action: step.Action,
			Error:  ErrPlanCancelled.Error(),
		},
		code:     ErrCodeCancelled,
		executed: true,
	}
}

// batchSteps groups step indices into execution batches: runs of consecutive
// Parallel steps collapse into one concurrent batch, everything else stays a
// singleton so sequential semantics hold by default.
func batchSteps(steps []schemas.Step) [][]int {
	var batches [][]int
	i := 0
	for i < len(steps) {
		if !steps[i].Parallel {
			batches = append(batches, []int{i})
			i++
			continue
		}
		j := i
		var batch []int
		for j < len(steps) && steps[j].Parallel {
			batch = append(batch, j)
			j++
		}
		batches = append(batches, batch)
		i = j
	}
	return batches
}
