package schemas

import "context"

// ToolResult is what a tool handler reports back for a single step.
// ResponseTime is optional; when zero the engine substitutes the measured
// wall-clock duration of the handler call.
type ToolResult struct {
	Success      bool    `json:"success"`
	Cost         float64 `json:"cost"`
	ResponseTime float64 `json:"response_time,omitempty"` // seconds
	Error        string  `json:"error,omitempty"`
}

// ToolHandler is the contract a tool implementation must satisfy to be
// dispatchable by the execution engine. Handlers receive the step verbatim
// and must respect context cancellation for long-running work.
type ToolHandler func(ctx context.Context, step Step) ToolResult

// Approver resolves an approval request to a go/no-go decision. It is a
// capability rather than a bare function so that built-in policies (auto
// approve, always reject) and interactive prompts share one contract.
type Approver interface {
	Resolve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApproverFunc adapts a plain function to the Approver interface.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Resolve implements Approver.
func (f ApproverFunc) Resolve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// Persister is the durable record sink the pipeline writes into. The core
// never reads it back mid-pipeline; failures are best-effort and must not
// abort an otherwise successful run.
type Persister interface {
	SaveRun(ctx context.Context, planID string, status PipelineStatus, result []byte) error
	SaveViolations(ctx context.Context, planID string, violations []ConstraintViolation) error
	SaveDecision(ctx context.Context, decision ApprovalDecision) error
}
