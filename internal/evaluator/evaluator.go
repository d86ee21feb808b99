// Package evaluator scores goals against the current agent state: whether a
// goal is feasible right now, how risky it is, which rung of the plan chain
// to enter at, and in what order competing goals should be scheduled.
package evaluator

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"goalforge/internal/goal"
	"goalforge/internal/logging"
)

// Risk band thresholds over the accumulated risk score.
const (
	mediumRiskAt   = 0.2
	highRiskAt     = 0.5
	criticalRiskAt = 0.8
)

// RiskFactor is one contributor to the risk score.
type RiskFactor struct {
	Factor   string  `json:"factor"`
	Severity string  `json:"severity"`
	Value    float64 `json:"value"`
}

// RiskAssessment is the weighted, banded risk picture for one evaluation.
type RiskAssessment struct {
	Score       float64        `json:"score"`
	Level       goal.RiskLevel `json:"level"`
	Factors     []RiskFactor   `json:"factors,omitempty"`
	Mitigations []string       `json:"mitigations,omitempty"`
}

// ResourceCheck reports whether the active plan's required resources are
// covered by the current state.
type ResourceCheck struct {
	Sufficient   bool     `json:"sufficient"`
	Insufficient []string `json:"insufficient,omitempty"`
	Acquisition  []string `json:"acquisition,omitempty"`
}

// Feasibility is the full assessment for one goal.
type Feasibility struct {
	Feasible           bool           `json:"feasible"`
	PrerequisitesMet   bool           `json:"prerequisites_met"`
	Risk               RiskAssessment `json:"risk"`
	Resources          ResourceCheck  `json:"resources"`
	RecommendedEntry   goal.Severity  `json:"recommended_entry"`
	BlockingFactors    []string       `json:"blocking_factors,omitempty"`
	SuccessProbability float64        `json:"success_probability"`
	Preparation        []string       `json:"preparation,omitempty"`
}

// Evaluator assesses goals against agent state. An optional arena resolves
// prerequisite goal ids; without one, id prerequisites count as unmet.
type Evaluator struct {
	arena *goal.Arena
	log   *zap.Logger
}

// New creates an evaluator backed by the given arena (may be nil).
func New(arena *goal.Arena) *Evaluator {
	return &Evaluator{arena: arena, log: logging.Get(logging.CategoryEvaluator)}
}

// EvaluateFeasibility determines whether a goal is achievable in the current
// state. A goal is feasible only when prerequisites hold, resources suffice,
// and risk is below the CRITICAL band.
func (e *Evaluator) EvaluateFeasibility(g *goal.Goal, state *goal.State) Feasibility {
	prereqs := e.checkPrerequisites(g)
	risk := AssessRisk(state)
	resources := e.checkResources(g, state)

	f := Feasibility{
		PrerequisitesMet: prereqs,
		Risk:             risk,
		Resources:        resources,
		RecommendedEntry: EntrySeverity(risk.Level),
	}
	f.Feasible = prereqs && resources.Sufficient && risk.Level != goal.RiskCritical

	if !prereqs {
		f.BlockingFactors = append(f.BlockingFactors, "prerequisites not met")
		f.Preparation = append(f.Preparation, "complete prerequisite goals first")
	}
	for _, r := range resources.Insufficient {
		f.BlockingFactors = append(f.BlockingFactors, "insufficient "+r)
	}
	f.Preparation = append(f.Preparation, resources.Acquisition...)
	if risk.Level == goal.RiskCritical {
		f.BlockingFactors = append(f.BlockingFactors, "risk level critical")
	}
	f.Preparation = append(f.Preparation, risk.Mitigations...)

	f.SuccessProbability = estimateSuccess(risk.Level, resources.Sufficient)

	e.log.Info("feasibility evaluated",
		zap.String("goal", g.Name),
		zap.Bool("feasible", f.Feasible),
		zap.String("risk", string(risk.Level)),
		zap.Float64("success_probability", f.SuccessProbability))
	return f
}

// EntrySeverity maps a risk band onto the recommended entry point of the
// fallback chain.
func EntrySeverity(level goal.RiskLevel) goal.Severity {
	switch level {
	case goal.RiskCritical:
		return goal.SeverityEmergency
	case goal.RiskHigh:
		return goal.SeverityConservative
	case goal.RiskMedium:
		return goal.SeverityAlternative
	default:
		return goal.SeverityPrimary
	}
}

// AssessRisk accumulates the weighted risk score from the state snapshot and
// bands it. Weights and thresholds match long-observed field behavior; do
// not retune them casually.
func AssessRisk(state *goal.State) RiskAssessment {
	var score float64
	var factors []RiskFactor
	var mitigations []string

	if state == nil {
		return RiskAssessment{Score: 1.0, Level: goal.RiskCritical}
	}

	switch {
	case state.HealthPct < 30:
		score += 0.4
		factors = append(factors, RiskFactor{Factor: "low_health", Severity: "HIGH", Value: state.HealthPct})
		mitigations = append(mitigations, "restore health to at least 70% before starting")
	case state.HealthPct < 50:
		score += 0.2
		factors = append(factors, RiskFactor{Factor: "medium_health", Severity: "MEDIUM", Value: state.HealthPct})
	}

	if state.StaminaPct < 20 {
		score += 0.3
		factors = append(factors, RiskFactor{Factor: "low_stamina", Severity: "HIGH", Value: state.StaminaPct})
		mitigations = append(mitigations, "recover stamina before starting")
	}

	switch {
	case state.LoadPct > 90:
		score += 0.3
		factors = append(factors, RiskFactor{Factor: "overloaded", Severity: "HIGH", Value: state.LoadPct})
		mitigations = append(mitigations, "store items to bring load below 70%")
	case state.LoadPct > 70:
		score += 0.1
		factors = append(factors, RiskFactor{Factor: "heavy_load", Severity: "MEDIUM", Value: state.LoadPct})
	}

	switch {
	case state.HostileCount > 10:
		score += 0.4
		factors = append(factors, RiskFactor{Factor: "hostile_swarm", Severity: "CRITICAL", Value: float64(state.HostileCount)})
		mitigations = append(mitigations, "clear hostiles or relocate to a safer area")
	case state.HostileCount > 5:
		score += 0.2
		factors = append(factors, RiskFactor{Factor: "hostiles_nearby", Severity: "MEDIUM", Value: float64(state.HostileCount)})
	}

	if score > 1.0 {
		score = 1.0
	}

	level := goal.RiskLow
	switch {
	case score >= criticalRiskAt:
		level = goal.RiskCritical
	case score >= highRiskAt:
		level = goal.RiskHigh
	case score >= mediumRiskAt:
		level = goal.RiskMedium
	}

	return RiskAssessment{Score: score, Level: level, Factors: factors, Mitigations: mitigations}
}

// checkPrerequisites resolves prerequisite goal ids through the arena.
func (e *Evaluator) checkPrerequisites(g *goal.Goal) bool {
	if len(g.Prerequisites) == 0 {
		return true
	}
	if e.arena == nil {
		return false
	}
	return e.arena.PrerequisitesDone(g)
}

// checkResources verifies the active plan's required resources against the
// state's inventory and currency.
func (e *Evaluator) checkResources(g *goal.Goal, state *goal.State) ResourceCheck {
	check := ResourceCheck{Sufficient: true}
	plan := g.Plan(g.ActivePlan)
	if plan == nil || state == nil {
		return check
	}
	for name, needed := range plan.RequiredResources {
		var available float64
		if name == "currency" {
			available = float64(state.Currency)
		} else {
			available = float64(state.Inventory[name])
		}
		if available < needed {
			check.Sufficient = false
			check.Insufficient = append(check.Insufficient, name)
			check.Acquisition = append(check.Acquisition,
				fmt.Sprintf("acquire %.0f more %s", needed-available, name))
		}
	}
	sort.Strings(check.Insufficient)
	return check
}

func estimateSuccess(level goal.RiskLevel, resourcesOK bool) float64 {
	p := 0.75
	switch level {
	case goal.RiskCritical:
		p *= 0.3
	case goal.RiskHigh:
		p *= 0.6
	case goal.RiskMedium:
		p *= 0.85
	}
	if !resourcesOK {
		p *= 0.7
	}
	if p < 0.1 {
		p = 0.1
	}
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// PrioritizeGoals orders goals for scheduling, highest score first. The sort
// is stable so equal scores keep their input order. Ordering is a scheduling
// preference only, never mutual exclusion.
func (e *Evaluator) PrioritizeGoals(goals []*goal.Goal, state *goal.State) []*goal.Goal {
	out := make([]*goal.Goal, len(goals))
	copy(out, goals)
	scores := make(map[string]float64, len(goals))
	for _, g := range out {
		scores[g.ID] = PriorityScore(g, state)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ID] > scores[out[j].ID]
	})
	if len(out) > 0 {
		e.log.Debug("prioritized goals",
			zap.Int("count", len(out)),
			zap.String("top", out[0].Name),
			zap.Float64("top_score", scores[out[0].ID]))
	}
	return out
}

// PriorityScore computes the dynamic scheduling score for one goal.
func PriorityScore(g *goal.Goal, state *goal.State) float64 {
	score := float64(g.Priority) * 10

	if state != nil && g.Type == "survival" {
		switch {
		case state.HealthPct < 20:
			score += 100
		case state.HealthPct < 40:
			score += 50
		}
	}

	if remaining, ok := g.TimeRemaining(); ok {
		switch {
		case remaining < 5*time.Minute:
			score += 30
		case remaining < 30*time.Minute:
			score += 15
		}
	}

	if state != nil && g.Type == "storage" {
		switch {
		case state.LoadPct > 90:
			score += 40
		case state.LoadPct > 80:
			score += 20
		}
	}

	if g.Metadata["rare_opportunity"] == "true" {
		score += 25
	}
	if g.Status == goal.StatusInProgress {
		score += 10
	}
	score -= float64(g.FailureCount) * 2

	return score
}
