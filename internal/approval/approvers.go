package approval

import (
	"context"

	"github.com/xkilldash9x/tether-cli/api/schemas"
)

// AutoApprover approves every request unconditionally. It exists as an
// explicit capability so the dangerous path is visible in the wiring rather
// than hidden behind a flag check deep in the gate.
type AutoApprover struct{}

// Resolve implements schemas.Approver.
func (AutoApprover) Resolve(_ context.Context, _ schemas.ApprovalRequest) (bool, error) {
	return true, nil
}

// RejectAll rejects every request. Useful as the safe default handler for
// unattended environments where nobody can answer.
type RejectAll struct{}

// Resolve implements schemas.Approver.
func (RejectAll) Resolve(_ context.Context, _ schemas.ApprovalRequest) (bool, error) {
	return false, nil
}
