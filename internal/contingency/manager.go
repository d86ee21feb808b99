// Package contingency executes a goal's plan chain with automatic fallback.
// ExecuteWithContingency is a total function: it always returns a terminal
// result, and a chain that exhausts every rung lands in the emergency abort
// procedure rather than an error escape. Panics inside the action executor
// are recovered and treated as ordinary plan failures.
package contingency

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goalforge/internal/goal"
	"goalforge/internal/logging"
)

// Status atoms for execution results.
type Status string

const (
	StatusSuccess        Status = "/success"
	StatusBlocked        Status = "/blocked"
	StatusFailed         Status = "/failed"
	StatusEmergencyAbort Status = "/emergency_abort"
)

// Result is the terminal outcome of one goal execution.
type Result struct {
	Status        Status        `json:"status"`
	GoalID        string        `json:"goal_id"`
	PlanUsed      goal.Severity `json:"plan_used"`
	Attempts      int           `json:"attempts"`
	Duration      time.Duration `json:"duration"`
	Reason        string        `json:"reason,omitempty"`
	CharacterSafe bool          `json:"character_safe"`
	ActionsTaken  []string      `json:"actions_taken,omitempty"`
	PostMortem    *PostMortem   `json:"post_mortem,omitempty"`
}

// Manager runs plan chains through an action executor.
type Manager struct {
	exec  ActionExecutor
	audit AuditSink
	log   *zap.Logger
}

// NewManager creates a manager. A nil sink is replaced with NopSink.
func NewManager(exec ActionExecutor, sink AuditSink) *Manager {
	if sink == nil {
		sink = NopSink{}
	}
	return &Manager{exec: exec, audit: sink, log: logging.Get(logging.CategoryContingency)}
}

// ExecuteWithContingency runs the goal's chain from its active plan forward.
// Every plan gets exactly one attempt; a failure advances the chain, so total
// runtime is bounded by the sum of the plan timeouts. An emergency plan
// failure triggers the abort procedure. Cancellation of ctx forces an
// emergency abort.
func (m *Manager) ExecuteWithContingency(ctx context.Context, g *goal.Goal, state *goal.State) Result {
	start := time.Now()

	if g.Status.Terminal() {
		return Result{
			Status:   statusFor(g.Status),
			GoalID:   g.ID,
			PlanUsed: g.ActivePlan,
			Attempts: g.AttemptCount,
			Reason:   "goal already terminal",
		}
	}
	if g.Status == goal.StatusPending {
		if err := g.StartExecution(); err != nil {
			return m.abort(ctx, g, state, "could not start execution: "+err.Error(), start)
		}
	}
	m.log.Info("executing with contingency",
		zap.String("goal", g.Name),
		zap.String("entry_plan", string(g.ActivePlan)))

	for {
		plan := g.Plan(g.ActivePlan)
		if plan == nil {
			return m.abort(ctx, g, state, "no plan for severity "+string(g.ActivePlan), start)
		}

		if ctx.Err() != nil {
			return m.abort(ctx, g, state, "execution cancelled", start)
		}
		err := m.runPlan(ctx, g, plan, state)
		if err == nil {
			_ = g.CompleteSuccess()
			m.log.Info("goal succeeded",
				zap.String("goal", g.Name),
				zap.String("plan", string(plan.Severity)),
				zap.Int("attempts", g.AttemptCount))
			return Result{
				Status:   StatusSuccess,
				GoalID:   g.ID,
				PlanUsed: plan.Severity,
				Attempts: g.AttemptCount,
				Duration: time.Since(start),
			}
		}

		m.recordFailure(ctx, g, plan, err)
		g.FailureCount++
		if ctx.Err() != nil {
			return m.abort(ctx, g, state, "execution cancelled", start)
		}
		if plan.Severity == goal.SeverityEmergency {
			return m.abort(ctx, g, state, "emergency plan failed: "+failureReason(err), start)
		}
		if serr := g.SwitchToFallback(failureReason(err)); serr != nil {
			return m.abort(ctx, g, state, "fallback switch failed: "+serr.Error(), start)
		}
		m.log.Warn("switched to fallback",
			zap.String("goal", g.Name),
			zap.String("plan", string(g.ActivePlan)),
			zap.String("reason", failureReason(err)))
	}
}

// runPlan executes one plan attempt under its own timeout: every action in
// sequence, then the goal's success conditions against the updated state.
func (m *Manager) runPlan(ctx context.Context, g *goal.Goal, p *goal.ContingencyPlan, state *goal.State) error {
	planCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	for _, action := range p.Actions {
		act := action
		err := runProtected(func() error { return m.exec.Execute(planCtx, act, state) })
		if err != nil {
			reason := "action " + act.Kind + " failed"
			if planCtx.Err() == context.DeadlineExceeded {
				reason = "plan timed out at action " + act.Kind
			}
			return &PlanFailure{GoalID: g.ID, Plan: p.Severity, Reason: reason, Err: err}
		}
		if planCtx.Err() != nil {
			return &PlanFailure{GoalID: g.ID, Plan: p.Severity, Reason: "plan timed out", Err: planCtx.Err()}
		}
	}

	if len(g.SuccessConditions) > 0 && !state.Satisfies(g.SuccessConditions) {
		return &PlanFailure{GoalID: g.ID, Plan: p.Severity, Reason: "success conditions not met"}
	}
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, g *goal.Goal, p *goal.ContingencyPlan, err error) {
	m.log.Warn("plan failed",
		zap.String("goal", g.Name),
		zap.String("plan", string(p.Severity)),
		zap.Error(err))
	rec := FailureRecord{
		GoalID:    g.ID,
		GoalName:  g.Name,
		Plan:      p.Severity,
		Reason:    failureReason(err),
		Attempt:   g.AttemptCount,
		Timestamp: time.Now(),
	}
	if serr := m.audit.RecordPlanFailure(ctx, rec); serr != nil {
		m.log.Warn("audit sink rejected failure record", zap.Error(serr))
	}
}

// ExecuteAction runs a single action outside any plan chain, with the same
// panic protection the chain executor uses. Fast dispatch tiers use it for
// their one-shot attempts.
func (m *Manager) ExecuteAction(ctx context.Context, act goal.Action, state *goal.State) error {
	return runProtected(func() error { return m.exec.Execute(ctx, act, state) })
}

// runProtected converts a panic in fn into an error.
func runProtected(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func statusFor(s goal.Status) Status {
	switch s {
	case goal.StatusCompleted:
		return StatusSuccess
	case goal.StatusEmergencyAborted:
		return StatusEmergencyAbort
	default:
		return StatusFailed
	}
}
