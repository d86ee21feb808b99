package goal

import "fmt"

// fallbackOrder is the required order of the fallback chain.
var fallbackOrder = []Severity{SeverityAlternative, SeverityConservative, SeverityEmergency}

// EnsureFallbacks fills in any missing tail of the fallback chain with
// auto-generated plans so that every goal carries exactly the three required
// severities. Auto-generated plans retreat, restore and stop; the emergency
// entry gets a near-certain success probability and a zero retry budget.
func (g *Goal) EnsureFallbacks() {
	for len(g.Fallbacks) < len(fallbackOrder) {
		sev := fallbackOrder[len(g.Fallbacks)]
		prob := 0.85
		retries := 1
		if sev == SeverityEmergency {
			prob = 0.99
			retries = 0
		}
		g.Fallbacks = append(g.Fallbacks, ContingencyPlan{
			Name:        fmt.Sprintf("auto %s plan", sev),
			Severity:    sev,
			Description: "auto-generated fallback",
			Actions: []Action{
				{Kind: "abort"},
				{Kind: "move_to_safety"},
				{Kind: "restore_full"},
			},
			SuccessProbability: prob,
			TimeoutSeconds:     30,
			MaxRetries:         retries,
			RiskLabel:          RiskLow,
		})
	}
}

// Validate enforces the structural invariants of the goal model. Violations
// are ValidationErrors and reject the goal outright.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	if g.Name == "" {
		return &ValidationError{Field: "name", Reason: "empty"}
	}
	if !g.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("out of range: %d", g.Priority)}
	}
	if g.ActivePlan.Index() < 0 {
		return &ValidationError{Field: "active_plan", Reason: fmt.Sprintf("unknown severity %q", g.ActivePlan)}
	}
	if g.Primary.Severity != SeverityPrimary {
		return &ValidationError{Field: "primary_plan", Reason: fmt.Sprintf("severity must be %s, got %q", SeverityPrimary, g.Primary.Severity)}
	}
	if len(g.Primary.Actions) == 0 {
		return &ValidationError{Field: "primary_plan", Reason: "no actions"}
	}

	if len(g.Fallbacks) != len(fallbackOrder) {
		return &ValidationError{Field: "fallback_plans", Reason: fmt.Sprintf("need exactly %d, got %d", len(fallbackOrder), len(g.Fallbacks))}
	}
	prev := -1.0
	for i, fb := range g.Fallbacks {
		if fb.Severity != fallbackOrder[i] {
			return &ValidationError{
				Field:  "fallback_plans",
				Reason: fmt.Sprintf("position %d must be %s, got %q", i, fallbackOrder[i], fb.Severity),
			}
		}
		if fb.SuccessProbability < 0 || fb.SuccessProbability > 1 {
			return &ValidationError{Field: "fallback_plans", Reason: fmt.Sprintf("%s success probability out of range", fb.Severity)}
		}
		// Certainty must not decrease as severity rises.
		if fb.SuccessProbability < prev {
			return &ValidationError{
				Field:  "fallback_plans",
				Reason: fmt.Sprintf("%s success probability %.2f below preceding %.2f", fb.Severity, fb.SuccessProbability, prev),
			}
		}
		prev = fb.SuccessProbability
		if fb.MaxRetries < 0 {
			return &ValidationError{Field: "fallback_plans", Reason: fmt.Sprintf("%s retry budget negative", fb.Severity)}
		}
		if len(fb.Actions) == 0 {
			return &ValidationError{Field: "fallback_plans", Reason: fmt.Sprintf("%s has no actions", fb.Severity)}
		}
	}

	emergency := g.Fallbacks[len(g.Fallbacks)-1]
	if emergency.MaxRetries != 0 {
		return &ValidationError{Field: "fallback_plans", Reason: "emergency retry budget must be 0"}
	}
	if emergency.TimeoutSeconds <= 0 {
		return &ValidationError{Field: "fallback_plans", Reason: "emergency timeout must be positive"}
	}
	return nil
}
