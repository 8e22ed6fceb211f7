// Package approval implements the risk-gated human decision stage. The gate
// decides whether a recommended simulation path needs sign-off, resolves the
// decision through a pluggable Approver, and tracks suspended requests so a
// pipeline can park in awaiting_approval and be resumed later.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
)

var (
	// ErrInvalidState is returned when a request is resolved twice. This is a
	// programming error on the caller's side and is never silently ignored.
	ErrInvalidState = errors.New("approval request already resolved")

	// ErrUnknownRequest is returned when resolving a request id the gate has
	// never issued or has already garbage collected.
	ErrUnknownRequest = errors.New("unknown approval request")
)

type pendingRequest struct {
	req      schemas.ApprovalRequest
	resolved bool
	decision schemas.ApprovalDecision
}

// Gate evaluates approval criteria and brokers decisions. It is safe for
// concurrent use across pipelines.
type Gate struct {
	cfg    config.ApprovalConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates an approval gate from configuration.
func New(cfg config.ApprovalConfig, logger *zap.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "approval_gate")),
		pending: make(map[string]*pendingRequest),
	}
}

// RequiresApproval reports whether the recommended path needs human
// sign-off. Any single criterion on its unsafe side is sufficient.
func (g *Gate) RequiresApproval(path schemas.SimulationPath) bool {
	if path.Risk >= schemas.RiskHigh {
		return true
	}
	if g.cfg.HighCostThreshold > 0 && path.EstimatedCost > g.cfg.HighCostThreshold {
		return true
	}
	if g.cfg.LongDurationThreshold > 0 && path.EstimatedTime > g.cfg.LongDurationThreshold {
		return true
	}
	if path.SuccessProbability < g.cfg.LowSuccessThreshold {
		return true
	}
	return false
}

// NewRequest builds a context-rich approval request for the plan and path
// and registers it as pending. The context map carries display-ready
// decision-relevant fields only.
func (g *Gate) NewRequest(plan schemas.Plan, path schemas.SimulationPath) schemas.ApprovalRequest {
	urgency := "medium"
	if path.Risk == schemas.RiskCritical {
		urgency = "high"
	}

	reqCtx := map[string]string{
		"plan_summary":        plan.Description,
		"estimated_time":      fmt.Sprintf("%dm", path.EstimatedTime/60),
		"estimated_cost":      fmt.Sprintf("%.2f", path.EstimatedCost),
		"success_probability": fmt.Sprintf("%.0f%%", path.SuccessProbability*100),
		"risk_level":          path.Risk.String(),
	}
	for i, m := range path.FailureModes {
		if i >= 3 {
			break // top risks only, the approver does not need the long tail
		}
		reqCtx[fmt.Sprintf("key_risk_%d", i+1)] = m.Label
	}

	req := schemas.ApprovalRequest{
		ID:                  uuid.New().String(),
		PlanID:              plan.ID,
		Risk:                path.Risk,
		EstimatedCost:       path.EstimatedCost,
		EstimatedTime:       path.EstimatedTime,
		SuccessProbability:  path.SuccessProbability,
		Urgency:             urgency,
		RecommendedApprover: recommendedApprover(path.Risk),
		Context:             reqCtx,
		RequestedAt:         time.Now().UTC(),
		Timeout:             g.cfg.Timeout,
	}

	g.mu.Lock()
	g.pending[req.ID] = &pendingRequest{req: req}
	g.mu.Unlock()

	return req
}

// RequestApproval resolves the request through the supplied approver,
// honoring the configured timeout. On timeout the decision falls back to the
// configured default with Resolution set to timed_out so callers can tell
// "human said no" apart from "nobody answered". With AutoApprove set the
// approver is never consulted; the override is logged loudly because it
// defeats the whole point of the gate.
func (g *Gate) RequestApproval(ctx context.Context, plan schemas.Plan, path schemas.SimulationPath, approver schemas.Approver) (schemas.ApprovalDecision, error) {
	req := g.NewRequest(plan, path)

	if g.cfg.AutoApprove {
		g.logger.Warn("AUTO-APPROVE override active, bypassing human approval",
			zap.String("plan_id", plan.ID),
			zap.String("request_id", req.ID),
			zap.String("risk_level", path.Risk.String()),
		)
		return g.finalize(req.ID, schemas.ApprovalDecision{
			RequestID:  req.ID,
			Approved:   true,
			Resolution: schemas.ResolutionAutoApproved,
			Approver:   "auto",
			DecidedAt:  time.Now().UTC(),
		})
	}

	timeout := g.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	resolveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		approved bool
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		approved, err := approver.Resolve(resolveCtx, req)
		ch <- outcome{approved: approved, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return g.timeoutDecision(req)
			}
			return schemas.ApprovalDecision{}, fmt.Errorf("approval handler failed: %w", out.err)
		}
		resolution := schemas.ResolutionRejected
		if out.approved {
			resolution = schemas.ResolutionApproved
		}
		return g.finalize(req.ID, schemas.ApprovalDecision{
			RequestID:  req.ID,
			Approved:   out.approved,
			Resolution: resolution,
			Approver:   "handler",
			DecidedAt:  time.Now().UTC(),
		})
	case <-resolveCtx.Done():
		if ctx.Err() != nil {
			// The caller's context died, not the approval timer.
			return schemas.ApprovalDecision{}, ctx.Err()
		}
		return g.timeoutDecision(req)
	}
}

func (g *Gate) timeoutDecision(req schemas.ApprovalRequest) (schemas.ApprovalDecision, error) {
	g.logger.Warn("Approval request timed out, applying configured default",
		zap.String("request_id", req.ID),
		zap.String("plan_id", req.PlanID),
		zap.Bool("default", g.cfg.DefaultOnTimeout),
	)
	return g.finalize(req.ID, schemas.ApprovalDecision{
		RequestID:  req.ID,
		Approved:   g.cfg.DefaultOnTimeout,
		Resolution: schemas.ResolutionTimedOut,
		Reason:     "no decision before timeout",
		DecidedAt:  time.Now().UTC(),
	})
}

// Resolve settles a suspended request by id. It backs the cooperative
// resumption path: the pipeline parked in awaiting_approval, and a later
// caller supplies the human's answer. Resolving twice fails with
// ErrInvalidState.
func (g *Gate) Resolve(requestID string, approved bool, approver, reason string) (schemas.ApprovalDecision, error) {
	resolution := schemas.ResolutionRejected
	if approved {
		resolution = schemas.ResolutionApproved
	}
	return g.finalize(requestID, schemas.ApprovalDecision{
		RequestID:  requestID,
		Approved:   approved,
		Resolution: resolution,
		Approver:   approver,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	})
}

func (g *Gate) finalize(requestID string, decision schemas.ApprovalDecision) (schemas.ApprovalDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[requestID]
	if !ok {
		return schemas.ApprovalDecision{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if p.resolved {
		return schemas.ApprovalDecision{}, fmt.Errorf("%w: %s", ErrInvalidState, requestID)
	}
	p.resolved = true
	p.decision = decision
	return decision, nil
}

// Pending returns the requests that are registered but not yet resolved.
func (g *Gate) Pending() []schemas.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []schemas.ApprovalRequest
	for _, p := range g.pending {
		if !p.resolved {
			out = append(out, p.req)
		}
	}
	return out
}

// Request returns a registered request by id, resolved or not.
func (g *Gate) Request(requestID string) (schemas.ApprovalRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[requestID]
	if !ok {
		return schemas.ApprovalRequest{}, false
	}
	return p.req, true
}

func recommendedApprover(risk schemas.RiskLevel) string {
	switch risk {
	case schemas.RiskCritical:
		return "senior_engineer"
	case schemas.RiskHigh:
		return "team_lead"
	default:
		return "any_engineer"
	}
}
