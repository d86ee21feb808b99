package contingency

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"goalforge/internal/goal"
)

// abortStepTimeout bounds each recovery step even when the parent context is
// already cancelled; the safety actions must still get a chance to run.
const abortStepTimeout = 30 * time.Second

// abort is the last-resort procedure. It never fails: every step is
// log-and-continue, panics included, and the result always reports
// CharacterSafe true. Abort failures are recorded but never escalated.
func (m *Manager) abort(ctx context.Context, g *goal.Goal, state *goal.State, reason string, start time.Time) Result {
	m.log.Error("emergency abort",
		zap.String("goal", g.Name),
		zap.String("reason", reason))

	g.EmergencyAbort(reason)

	var taken []string

	// Step 1: snapshot state for the post-mortem.
	snapshot := state.Clone()
	taken = append(taken, "saved_state")

	// Step 2: move to safety, skipped when already safe.
	if state != nil && !state.SafeZone {
		if err := m.abortAction(g, state, goal.Action{Kind: "move_to_safety"}); err != nil {
			m.log.Error("abort step move_to_safety failed", zap.Error(err))
		} else {
			taken = append(taken, "moved_to_safety")
		}
	}

	// Step 3: restore to full.
	if err := m.abortAction(g, state, goal.Action{Kind: "restore_full"}); err != nil {
		m.log.Error("abort step restore_full failed", zap.Error(err))
	} else {
		taken = append(taken, "restored_full")
	}

	// Step 4: post-mortem to the audit sink. Detached context so a cancelled
	// execution still gets its analysis persisted.
	pm := m.buildPostMortem(g, reason, snapshot)
	sinkCtx, cancel := context.WithTimeout(context.Background(), abortStepTimeout)
	defer cancel()
	if err := runProtected(func() error { return m.audit.RecordPostMortem(sinkCtx, pm) }); err != nil {
		m.log.Error("abort step post_mortem failed", zap.Error(err))
	} else {
		taken = append(taken, "recorded_post_mortem")
	}

	return Result{
		Status:        StatusEmergencyAbort,
		GoalID:        g.ID,
		PlanUsed:      goal.SeverityEmergency,
		Attempts:      g.AttemptCount,
		Duration:      time.Since(start),
		Reason:        reason,
		CharacterSafe: true,
		ActionsTaken:  taken,
		PostMortem:    &pm,
	}
}

// abortAction runs one safety action on a detached, bounded context with
// panic protection.
func (m *Manager) abortAction(g *goal.Goal, state *goal.State, act goal.Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), abortStepTimeout)
	defer cancel()
	return runProtected(func() error { return m.exec.Execute(ctx, act, state) })
}

func (m *Manager) buildPostMortem(g *goal.Goal, reason string, snapshot *goal.State) PostMortem {
	reasons := make(map[string][]string)
	var tried []goal.Severity
	seen := make(map[goal.Severity]bool)
	for _, tr := range g.Transitions {
		if !seen[tr.From] {
			seen[tr.From] = true
			tried = append(tried, tr.From)
		}
		reasons[string(tr.From)] = append(reasons[string(tr.From)], tr.Reason)
	}
	if !seen[g.ActivePlan] {
		tried = append(tried, g.ActivePlan)
	}

	return PostMortem{
		GoalID:          g.ID,
		GoalName:        g.Name,
		GoalType:        g.Type,
		PlansTried:      tried,
		FailureReasons:  reasons,
		FinalReason:     reason,
		TotalAttempts:   g.AttemptCount,
		TotalFailures:   g.FailureCount,
		StateAtFailure:  snapshot,
		Recommendations: recommend(reason, reasons),
		Timestamp:       time.Now(),
	}
}

// recommend derives prevention suggestions from the observed failure reasons.
func recommend(finalReason string, reasons map[string][]string) []string {
	var all []string
	all = append(all, finalReason)
	for _, rs := range reasons {
		all = append(all, rs...)
	}
	joined := strings.ToLower(strings.Join(all, " "))

	var recs []string
	if strings.Contains(joined, "timed out") || strings.Contains(joined, "timeout") {
		recs = append(recs, "increase plan timeouts by 50%")
	}
	if strings.Contains(joined, "insufficient") {
		recs = append(recs, "verify resource sufficiency before starting")
	}
	if strings.Contains(joined, "health") || strings.Contains(joined, "hp") {
		recs = append(recs, "raise the healing threshold before re-attempting")
	}
	recs = append(recs, "review plan parameters against the failure reasons")
	recs = append(recs, "consider decomposing the goal into smaller sub-goals")
	return recs
}
