package goal

import "time"

// StartExecution transitions PENDING -> IN_PROGRESS and counts the attempt.
func (g *Goal) StartExecution() error {
	if g.Status != StatusPending {
		return &TransitionError{GoalID: g.ID, From: g.Status, Op: "start_execution"}
	}
	now := time.Now()
	g.Status = StatusInProgress
	g.StartedAt = &now
	g.AttemptCount++
	return nil
}

// SwitchToFallback advances the active plan one severity step and appends an
// immutable transition record. It fails without mutation when the chain is
// already at the emergency plan; the pointer never regresses.
func (g *Goal) SwitchToFallback(reason string) error {
	next, ok := g.ActivePlan.Next()
	if !ok {
		return &TransitionError{GoalID: g.ID, From: g.Status, Op: "switch_to_fallback"}
	}
	g.Transitions = append(g.Transitions, PlanTransition{
		From:      g.ActivePlan,
		To:        next,
		Reason:    reason,
		Timestamp: time.Now(),
		Attempt:   g.AttemptCount,
	})
	g.ActivePlan = next
	return nil
}

// CompleteSuccess is terminal and one-way.
func (g *Goal) CompleteSuccess() error {
	if g.Status.Terminal() {
		return &TransitionError{GoalID: g.ID, From: g.Status, Op: "complete_success"}
	}
	now := time.Now()
	g.Status = StatusCompleted
	g.CompletedAt = &now
	return nil
}

// CompleteFailure is terminal and one-way.
func (g *Goal) CompleteFailure(reason string) error {
	if g.Status.Terminal() {
		return &TransitionError{GoalID: g.ID, From: g.Status, Op: "complete_failure"}
	}
	now := time.Now()
	g.Status = StatusFailed
	g.CompletedAt = &now
	g.FailureCount++
	if g.Metadata == nil {
		g.Metadata = map[string]string{}
	}
	g.Metadata["failure_reason"] = reason
	return nil
}

// EmergencyAbort is callable from any state and idempotent. It is the single
// absolute state of the system: it overrides even other terminal states so
// that a forced cancellation always lands here.
func (g *Goal) EmergencyAbort(reason string) {
	if g.Status == StatusEmergencyAborted {
		return
	}
	now := time.Now()
	g.Status = StatusEmergencyAborted
	g.CompletedAt = &now
	g.ActivePlan = SeverityEmergency
	if g.Metadata == nil {
		g.Metadata = map[string]string{}
	}
	g.Metadata["abort_reason"] = reason
}

// AddMilestone appends a named checkpoint at a target completion fraction.
func (g *Goal) AddMilestone(name string, targetProgress float64, description string) {
	g.Milestones = append(g.Milestones, Milestone{
		Name:           name,
		TargetProgress: targetProgress,
		Description:    description,
		CreatedAt:      time.Now(),
	})
}

// CompleteMilestone marks a milestone complete. Completion is monotonic:
// a completed milestone is never re-marked, and the call reports whether a
// new completion happened.
func (g *Goal) CompleteMilestone(name string) bool {
	for i := range g.Milestones {
		if g.Milestones[i].Name == name && !g.Milestones[i].Completed {
			now := time.Now()
			g.Milestones[i].Completed = true
			g.Milestones[i].CompletedAt = &now
			return true
		}
	}
	return false
}

// Progress returns the completed fraction of milestones (0.0-1.0).
func (g *Goal) Progress() float64 {
	if len(g.Milestones) == 0 {
		return 0
	}
	done := 0
	for i := range g.Milestones {
		if g.Milestones[i].Completed {
			done++
		}
	}
	return float64(done) / float64(len(g.Milestones))
}
