package contingency

import (
	"fmt"

	"goalforge/internal/goal"
)

// PlanFailure describes one failed plan attempt. It never escapes
// ExecuteWithContingency; it drives the fallback switch and the audit trail.
type PlanFailure struct {
	GoalID string
	Plan   goal.Severity
	Reason string
	Err    error
}

func (f *PlanFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("plan %s for goal %s: %s: %v", f.Plan, f.GoalID, f.Reason, f.Err)
	}
	return fmt.Sprintf("plan %s for goal %s: %s", f.Plan, f.GoalID, f.Reason)
}

func (f *PlanFailure) Unwrap() error { return f.Err }

func failureReason(err error) string {
	if pf, ok := err.(*PlanFailure); ok {
		return pf.Reason
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}
