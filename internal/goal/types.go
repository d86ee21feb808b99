// Package goal implements the goal model for long-running autonomous
// execution: the TemporalGoal entity, its contingency plan chain, the
// lifecycle state machine, and the agent state snapshot that success
// conditions are checked against.
//
// A goal always carries a primary plan plus an ordered fallback chain of
// exactly three contingency plans (alternative, conservative, emergency).
// The active plan pointer only ever advances through that chain; the
// emergency plan is the terminal rung and never retries.
package goal

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the execution status of a goal.
type Status string

const (
	StatusPending          Status = "/pending"           // Not started
	StatusInProgress       Status = "/in_progress"       // Currently executing
	StatusCompleted        Status = "/completed"         // Finished successfully
	StatusFailed           Status = "/failed"            // Failed (terminal)
	StatusAbandoned        Status = "/abandoned"         // Dropped (overdue at load)
	StatusEmergencyAborted Status = "/emergency_aborted" // Aborted via the emergency procedure
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned, StatusEmergencyAborted:
		return true
	}
	return false
}

// Priority is a 5-level ordinal; higher is more important.
type Priority int

const (
	PriorityTrivial  Priority = 1 // Non-essential
	PriorityLow      Priority = 2 // Optional tasks
	PriorityMedium   Priority = 3 // Normal activities
	PriorityHigh     Priority = 4 // Important objectives
	PriorityCritical Priority = 5 // Survival
)

// Valid reports whether p is within the ordinal range.
func (p Priority) Valid() bool { return p >= PriorityTrivial && p <= PriorityCritical }

// Weight normalizes priority for proportional resource shares (0.33-1.66).
func (p Priority) Weight() float64 { return float64(p) / 3.0 }

// Severity classifies a plan in the fallback chain. Severities are strictly
// ordered; execution only ever moves forward through them.
type Severity string

const (
	SeverityPrimary      Severity = "/primary"      // Plan A: optimal approach
	SeverityAlternative  Severity = "/alternative"  // Plan B: balanced approach
	SeverityConservative Severity = "/conservative" // Plan C: safe approach
	SeverityEmergency    Severity = "/emergency"    // Plan D: abort with safety guarantee
)

// SeverityOrder is the fixed execution order of the plan chain.
var SeverityOrder = []Severity{SeverityPrimary, SeverityAlternative, SeverityConservative, SeverityEmergency}

// Index returns the position of s in the chain, or -1 for unknown severities.
func (s Severity) Index() int {
	for i, sev := range SeverityOrder {
		if sev == s {
			return i
		}
	}
	return -1
}

// Next returns the severity one step forward, or false at the end of the chain.
func (s Severity) Next() (Severity, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(SeverityOrder)-1 {
		return s, false
	}
	return SeverityOrder[idx+1], true
}

// RiskLevel bands a risk score for plan selection.
type RiskLevel string

const (
	RiskLow      RiskLevel = "/low"
	RiskMedium   RiskLevel = "/medium"
	RiskHigh     RiskLevel = "/high"
	RiskCritical RiskLevel = "/critical"
)

// TimeScale drives hierarchical decomposition.
type TimeScale string

const (
	ScaleShort  TimeScale = "/short"  // Hours: executed directly
	ScaleMedium TimeScale = "/medium" // Days: split into daily slices
	ScaleLong   TimeScale = "/long"   // Open-ended: split into milestone slices
)

// Action is one step of a plan: a known kind plus an opaque parameter map
// owned by the action executor.
type Action struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// ContingencyPlan is one rung of the execution chain. Non-emergency plans
// trade completion certainty for efficiency; the emergency plan must always
// be executable and never retries.
type ContingencyPlan struct {
	Name                 string             `json:"name"`
	Severity             Severity           `json:"severity"`
	Description          string             `json:"description,omitempty"`
	ActivationConditions map[string]any     `json:"activation_conditions,omitempty"`
	Actions              []Action           `json:"actions"`
	RequiredResources    map[string]float64 `json:"required_resources,omitempty"`
	SuccessProbability   float64            `json:"success_probability"`
	TimeoutSeconds       int                `json:"timeout_seconds"`
	MaxRetries           int                `json:"max_retries"`
	RiskLabel            RiskLevel          `json:"risk_label,omitempty"`
}

// Timeout returns the plan's execution budget.
func (p *ContingencyPlan) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PlanTransition is an immutable record of one fallback switch.
type PlanTransition struct {
	From      Severity  `json:"from"`
	To        Severity  `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
}

// Milestone is a named checkpoint at a target completion fraction.
// Completion is monotonic: once marked complete it never reverts.
type Milestone struct {
	Name           string     `json:"name"`
	TargetProgress float64    `json:"target_progress"`
	Description    string     `json:"description,omitempty"`
	Completed      bool       `json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Goal is a unit of intent with a primary plan, an ordered fallback chain,
// and the tracking state the coordinator, allocator and contingency manager
// mutate as it advances.
type Goal struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`

	// Temporal attributes
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	EstimatedSeconds int        `json:"estimated_seconds"`
	TimeScale        TimeScale  `json:"time_scale"`

	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Execution plans
	Primary    ContingencyPlan   `json:"primary_plan"`
	Fallbacks  []ContingencyPlan `json:"fallback_plans"` // exactly 3: alternative, conservative, emergency
	ActivePlan Severity          `json:"active_plan"`

	// Execution tracking
	AttemptCount int              `json:"attempt_count"`
	FailureCount int              `json:"failure_count"`
	Transitions  []PlanTransition `json:"plan_transitions,omitempty"`

	// Success criteria, checked against the agent State.
	SuccessConditions map[string]float64 `json:"success_conditions"`

	// Hierarchy links are plain ids; the Arena owns the objects.
	ParentGoalID  string   `json:"parent_goal_id,omitempty"`
	SubGoals      []string `json:"sub_goals,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`

	Milestones []Milestone `json:"milestones,omitempty"`

	// Resource scheduling
	Requested map[string]float64 `json:"requested_resources,omitempty"`
	Exclusive []string           `json:"exclusive_resources,omitempty"`
	Grants    map[string]float64 `json:"resource_grants,omitempty"`

	Conflicts []string `json:"conflicts,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates a pending goal with defaults; callers fill in plans and
// conditions, then Validate.
func New(name, description, goalType string) *Goal {
	return &Goal{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      description,
		Type:             goalType,
		CreatedAt:        time.Now(),
		EstimatedSeconds: 300,
		TimeScale:        ScaleShort,
		Priority:         PriorityMedium,
		Status:           StatusPending,
		ActivePlan:       SeverityPrimary,
		Metadata:         map[string]string{},
	}
}

// Plan returns the plan for a severity, or nil if absent.
func (g *Goal) Plan(sev Severity) *ContingencyPlan {
	if sev == SeverityPrimary {
		return &g.Primary
	}
	for i := range g.Fallbacks {
		if g.Fallbacks[i].Severity == sev {
			return &g.Fallbacks[i]
		}
	}
	return nil
}

// Chain returns the plans in execution order: primary, alternative,
// conservative, emergency.
func (g *Goal) Chain() []*ContingencyPlan {
	chain := make([]*ContingencyPlan, 0, len(SeverityOrder))
	for _, sev := range SeverityOrder {
		if p := g.Plan(sev); p != nil {
			chain = append(chain, p)
		}
	}
	return chain
}

// IsOverdue reports whether the deadline has passed.
func (g *Goal) IsOverdue() bool {
	return g.Deadline != nil && time.Now().After(*g.Deadline)
}

// TimeRemaining returns the duration until the deadline, zero-floored,
// or false when no deadline is set.
func (g *Goal) TimeRemaining() (time.Duration, bool) {
	if g.Deadline == nil {
		return 0, false
	}
	d := time.Until(*g.Deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// ExecutionDuration returns elapsed start-to-completion time, or false when
// the goal has not both started and finished.
func (g *Goal) ExecutionDuration() (time.Duration, bool) {
	if g.StartedAt == nil || g.CompletedAt == nil {
		return 0, false
	}
	return g.CompletedAt.Sub(*g.StartedAt), true
}

// AddConflict registers a conflicting goal id (idempotent).
func (g *Goal) AddConflict(id string) {
	for _, c := range g.Conflicts {
		if c == id {
			return
		}
	}
	g.Conflicts = append(g.Conflicts, id)
}

// RemoveConflict clears a conflict registration.
func (g *Goal) RemoveConflict(id string) {
	for i, c := range g.Conflicts {
		if c == id {
			g.Conflicts = append(g.Conflicts[:i], g.Conflicts[i+1:]...)
			return
		}
	}
}

// HasConflicts reports whether any conflicts are registered.
func (g *Goal) HasConflicts() bool { return len(g.Conflicts) > 0 }
