package coordinator

import (
	"context"
	"errors"
	"time"

	"goalforge/internal/goal"
)

// Tier identifies one plan provider layer, fastest first.
type Tier string

const (
	TierCached    Tier = "/cached"     // memoized action sequences, ~10ms
	TierRuleBased Tier = "/rule_based" // hard-coded emergency rules, ~100ms
	TierLearned   Tier = "/learned"    // pattern predictions, ~500ms
	TierStrategic Tier = "/strategic"  // deliberate planning, ~5s
)

// TierOrder is the strict dispatch order.
var TierOrder = []Tier{TierCached, TierRuleBased, TierLearned, TierStrategic}

// ErrProviderTimeout marks a provider that blew its tier budget. The
// dispatcher treats it as inapplicability and falls through.
var ErrProviderTimeout = errors.New("plan provider exceeded its tier budget")

// Proposal is a provider's answer for one goal.
type Proposal struct {
	// Plan is the proposed primary plan. Nil means the provider has nothing
	// for this goal.
	Plan *goal.ContingencyPlan
	// Confidence gates the learned tier; other tiers may leave it zero.
	Confidence float64
}

// PlanProvider is one intelligence layer. Propose must return before ctx
// expires; a nil proposal or an error means fall through to the next tier.
type PlanProvider interface {
	Tier() Tier
	Propose(ctx context.Context, g *goal.Goal, state *goal.State) (*Proposal, error)
}

// PastAnalysis summarizes historical executions of similar goals.
type PastAnalysis struct {
	SampleSize           int      `json:"sample_size"`
	SuccessRate          float64  `json:"success_rate"`
	AvgDurationSeconds   float64  `json:"avg_duration_seconds"`
	CommonFailureReasons []string `json:"common_failure_reasons,omitempty"`
}

// PastAnalyzer looks back over historical goal outcomes.
type PastAnalyzer interface {
	AnalyzeSimilar(ctx context.Context, g *goal.Goal, lookbackDays int) (*PastAnalysis, error)
}

// Prediction is a forward estimate for a goal in the current state.
type Prediction struct {
	SuccessProbability float64  `json:"success_probability"`
	ExpectedSeconds    int      `json:"expected_seconds"`
	Risks              []string `json:"risks,omitempty"`
}

// FuturePredictor estimates goal outcomes before execution.
type FuturePredictor interface {
	PredictOutcome(ctx context.Context, g *goal.Goal, state *goal.State) (*Prediction, error)
}

// EnvironmentSync bridges to the external environment. Both calls degrade
// gracefully: push errors are logged and ignored, fetch errors fall back to
// the caller's snapshot.
type EnvironmentSync interface {
	PushGoal(ctx context.Context, g *goal.Goal) error
	FetchState(ctx context.Context) (*goal.State, error)
}

// Notifier receives milestone progress notifications.
type Notifier interface {
	Notify(goalID, message string)
}

// Request is an incoming goal request, typically decoded from YAML.
type Request struct {
	Name              string                 `yaml:"name" json:"name"`
	Description       string                 `yaml:"description" json:"description"`
	Type              string                 `yaml:"type" json:"type"`
	Priority          goal.Priority          `yaml:"priority" json:"priority"`
	TimeScale         goal.TimeScale         `yaml:"time_scale" json:"time_scale"`
	EstimatedSeconds  int                    `yaml:"estimated_seconds" json:"estimated_seconds"`
	Deadline          *time.Time             `yaml:"deadline" json:"deadline,omitempty"`
	Primary           *goal.ContingencyPlan  `yaml:"primary_plan" json:"primary_plan,omitempty"`
	Fallbacks         []goal.ContingencyPlan `yaml:"fallback_plans" json:"fallback_plans,omitempty"`
	SuccessConditions map[string]float64     `yaml:"success_conditions" json:"success_conditions,omitempty"`
	Requested         map[string]float64     `yaml:"requested_resources" json:"requested_resources,omitempty"`
	Exclusive         []string               `yaml:"exclusive_resources" json:"exclusive_resources,omitempty"`
	Tags              []string               `yaml:"tags" json:"tags,omitempty"`
	Metadata          map[string]string      `yaml:"metadata" json:"metadata,omitempty"`
}
