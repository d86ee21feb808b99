package evaluator

import (
	"testing"
	"time"

	"goalforge/internal/goal"
)

func healthyState() *goal.State {
	return &goal.State{
		HealthPct:  90,
		StaminaPct: 80,
		LoadPct:    40,
		Currency:   100000,
		Inventory:  map[string]int{"potion": 100},
	}
}

func TestAssessRiskWeightsAndBands(t *testing.T) {
	cases := []struct {
		name      string
		state     *goal.State
		wantScore float64
		wantLevel goal.RiskLevel
	}{
		{"healthy", healthyState(), 0.0, goal.RiskLow},
		{"medium health", &goal.State{HealthPct: 45, StaminaPct: 80}, 0.2, goal.RiskMedium},
		{"low health", &goal.State{HealthPct: 25, StaminaPct: 80}, 0.4, goal.RiskMedium},
		{"low health and stamina", &goal.State{HealthPct: 25, StaminaPct: 10}, 0.7, goal.RiskHigh},
		{"overloaded", &goal.State{HealthPct: 90, StaminaPct: 80, LoadPct: 95}, 0.3, goal.RiskMedium},
		{"heavy load", &goal.State{HealthPct: 90, StaminaPct: 80, LoadPct: 75}, 0.1, goal.RiskLow},
		{"swarmed", &goal.State{HealthPct: 90, StaminaPct: 80, HostileCount: 12}, 0.4, goal.RiskMedium},
		{"few hostiles", &goal.State{HealthPct: 90, StaminaPct: 80, HostileCount: 6}, 0.2, goal.RiskMedium},
		{
			"everything wrong",
			&goal.State{HealthPct: 10, StaminaPct: 5, LoadPct: 95, HostileCount: 20},
			1.0, goal.RiskCritical,
		},
	}
	for _, tc := range cases {
		got := AssessRisk(tc.state)
		if got.Score < tc.wantScore-1e-9 || got.Score > tc.wantScore+1e-9 {
			t.Errorf("%s: score = %f, want %f", tc.name, got.Score, tc.wantScore)
		}
		if got.Level != tc.wantLevel {
			t.Errorf("%s: level = %s, want %s", tc.name, got.Level, tc.wantLevel)
		}
	}

	if AssessRisk(nil).Level != goal.RiskCritical {
		t.Error("nil state should assess as critical")
	}
}

func TestEntrySeverityMapping(t *testing.T) {
	cases := map[goal.RiskLevel]goal.Severity{
		goal.RiskLow:      goal.SeverityPrimary,
		goal.RiskMedium:   goal.SeverityAlternative,
		goal.RiskHigh:     goal.SeverityConservative,
		goal.RiskCritical: goal.SeverityEmergency,
	}
	for level, want := range cases {
		if got := EntrySeverity(level); got != want {
			t.Errorf("EntrySeverity(%s) = %s, want %s", level, got, want)
		}
	}
}

func TestFeasibilityBlockedByCriticalRisk(t *testing.T) {
	e := New(nil)
	g := goal.New("risky", "", "general")
	g.Primary = goal.ContingencyPlan{Severity: goal.SeverityPrimary, Actions: []goal.Action{{Kind: "x"}}}

	state := &goal.State{HealthPct: 10, StaminaPct: 5, HostileCount: 20}
	f := e.EvaluateFeasibility(g, state)
	if f.Feasible {
		t.Error("goal feasible under critical risk")
	}
	if f.RecommendedEntry != goal.SeverityEmergency {
		t.Errorf("entry = %s, want emergency", f.RecommendedEntry)
	}
	if len(f.BlockingFactors) == 0 {
		t.Error("no blocking factors reported")
	}
}

func TestFeasibilityResourceCheck(t *testing.T) {
	e := New(nil)
	g := goal.New("shopping", "", "general")
	g.Primary = goal.ContingencyPlan{
		Severity: goal.SeverityPrimary,
		Actions:  []goal.Action{{Kind: "buy"}},
		RequiredResources: map[string]float64{
			"currency": 500000,
			"potion":   10,
		},
	}

	f := e.EvaluateFeasibility(g, healthyState())
	if f.Feasible {
		t.Error("feasible despite insufficient currency")
	}
	if len(f.Resources.Insufficient) != 1 || f.Resources.Insufficient[0] != "currency" {
		t.Errorf("insufficient = %v, want [currency]", f.Resources.Insufficient)
	}
	if len(f.Resources.Acquisition) == 0 {
		t.Error("no acquisition suggestions")
	}
}

func TestFeasibilityPrerequisitesViaArena(t *testing.T) {
	arena := goal.NewArena()
	e := New(arena)

	dep := goal.New("dep", "", "general")
	arena.Put(dep)

	g := goal.New("main", "", "general")
	g.Primary = goal.ContingencyPlan{Severity: goal.SeverityPrimary, Actions: []goal.Action{{Kind: "x"}}}
	g.Prerequisites = []string{dep.ID}

	if f := e.EvaluateFeasibility(g, healthyState()); f.PrerequisitesMet {
		t.Error("incomplete prerequisite reported met")
	}
	dep.Status = goal.StatusCompleted
	if f := e.EvaluateFeasibility(g, healthyState()); !f.PrerequisitesMet || !f.Feasible {
		t.Error("completed prerequisite not recognized")
	}
}

func TestPriorityScoreComponents(t *testing.T) {
	base := goal.New("base", "", "general")
	base.Priority = goal.PriorityMedium
	if got := PriorityScore(base, healthyState()); got != 30 {
		t.Errorf("base score = %f, want 30", got)
	}

	survival := goal.New("heal", "", "survival")
	survival.Priority = goal.PriorityMedium
	low := &goal.State{HealthPct: 15, StaminaPct: 80}
	if got := PriorityScore(survival, low); got != 130 {
		t.Errorf("survival score = %f, want 130", got)
	}

	deadline := goal.New("rush", "", "general")
	deadline.Priority = goal.PriorityMedium
	soon := time.Now().Add(3 * time.Minute)
	deadline.Deadline = &soon
	if got := PriorityScore(deadline, healthyState()); got != 60 {
		t.Errorf("deadline score = %f, want 60", got)
	}

	failed := goal.New("flaky", "", "general")
	failed.Priority = goal.PriorityMedium
	failed.FailureCount = 3
	if got := PriorityScore(failed, healthyState()); got != 24 {
		t.Errorf("failure-penalized score = %f, want 24", got)
	}

	running := goal.New("running", "", "general")
	running.Priority = goal.PriorityMedium
	running.Status = goal.StatusInProgress
	if got := PriorityScore(running, healthyState()); got != 40 {
		t.Errorf("in-progress score = %f, want 40", got)
	}
}

func TestPrioritizeGoalsCriticalFirstAndStable(t *testing.T) {
	e := New(nil)
	critical := goal.New("survive", "", "survival")
	critical.Priority = goal.PriorityCritical
	a := goal.New("a", "", "general")
	a.Priority = goal.PriorityMedium
	b := goal.New("b", "", "general")
	b.Priority = goal.PriorityMedium

	ordered := e.PrioritizeGoals([]*goal.Goal{a, critical, b}, healthyState())
	if ordered[0] != critical {
		t.Errorf("first = %s, want the critical goal", ordered[0].Name)
	}
	// Equal scores keep input order.
	if ordered[1] != a || ordered[2] != b {
		t.Errorf("tie order = %s, %s; want a, b", ordered[1].Name, ordered[2].Name)
	}
}

func TestPrioritizeStoragePressure(t *testing.T) {
	e := New(nil)
	store := goal.New("unload", "", "storage")
	store.Priority = goal.PriorityLow
	farm := goal.New("farm", "", "general")
	farm.Priority = goal.PriorityHigh

	loaded := &goal.State{HealthPct: 90, StaminaPct: 80, LoadPct: 95}
	ordered := e.PrioritizeGoals([]*goal.Goal{farm, store}, loaded)
	// 20 + 40 storage pressure beats the plain 40.
	if ordered[0] != store {
		t.Errorf("first = %s, want storage goal under load pressure", ordered[0].Name)
	}
}
