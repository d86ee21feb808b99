package goal

import "fmt"

// ValidationError rejects a malformed goal at construction. It is one of the
// two error kinds surfaced to callers as a hard failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid goal: %s: %s", e.Field, e.Reason)
}

// TransitionError reports an illegal state-machine transition. These are
// defensive: callers log them and continue, they never abort a run.
type TransitionError struct {
	GoalID string
	From   Status
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("goal %s: cannot %s from %s", e.GoalID, e.Op, e.From)
}
