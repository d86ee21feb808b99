package contingency

import (
	"context"
	"time"

	"goalforge/internal/goal"
)

// ActionExecutor carries out one plan action against the environment. The
// executor owns action parameter semantics and updates the state snapshot
// with observed effects; the manager only sequences actions and interprets
// errors. Implementations must respect ctx cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, action goal.Action, state *goal.State) error
}

// AuditSink receives failure records and post-mortems for later analysis.
// Sink errors are logged and swallowed; auditing never blocks recovery.
type AuditSink interface {
	RecordPlanFailure(ctx context.Context, rec FailureRecord) error
	RecordPostMortem(ctx context.Context, pm PostMortem) error
}

// FailureRecord is one failed plan attempt.
type FailureRecord struct {
	GoalID    string        `json:"goal_id"`
	GoalName  string        `json:"goal_name"`
	Plan      goal.Severity `json:"plan"`
	Reason    string        `json:"reason"`
	Attempt   int           `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
}

// PostMortem is the structured analysis produced by the abort procedure.
type PostMortem struct {
	GoalID          string              `json:"goal_id"`
	GoalName        string              `json:"goal_name"`
	GoalType        string              `json:"goal_type"`
	PlansTried      []goal.Severity     `json:"plans_tried"`
	FailureReasons  map[string][]string `json:"failure_reasons"`
	FinalReason     string              `json:"final_reason"`
	TotalAttempts   int                 `json:"total_attempts"`
	TotalFailures   int                 `json:"total_failures"`
	StateAtFailure  *goal.State         `json:"state_at_failure,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// NopSink discards everything. Used when no audit database is configured.
type NopSink struct{}

func (NopSink) RecordPlanFailure(context.Context, FailureRecord) error { return nil }
func (NopSink) RecordPostMortem(context.Context, PostMortem) error     { return nil }
