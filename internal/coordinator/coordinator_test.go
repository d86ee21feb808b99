package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalforge/internal/config"
	"goalforge/internal/contingency"
	"goalforge/internal/goal"
)

// stubExec succeeds unless told otherwise and records action kinds.
type stubExec struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (s *stubExec) Execute(ctx context.Context, action goal.Action, state *goal.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls = append(s.calls, action.Kind)
	fail := s.failOn[action.Kind]
	s.mu.Unlock()
	if fail {
		return errors.New("scripted failure")
	}
	if state != nil {
		if state.Counters == nil {
			state.Counters = map[string]float64{}
		}
		state.Counters[action.Kind]++
	}
	return nil
}

func (s *stubExec) saw(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == kind {
			return true
		}
	}
	return false
}

type stubProvider struct {
	tier  Tier
	prop  *Proposal
	err   error
	delay time.Duration
	calls int32
}

func (p *stubProvider) Tier() Tier { return p.tier }

func (p *stubProvider) Propose(ctx context.Context, g *goal.Goal, state *goal.State) (*Proposal, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.prop, p.err
}

func newCoordinator(exec contingency.ActionExecutor) *Coordinator {
	return New(config.Default(), exec, nil)
}

func calmState() *goal.State {
	return &goal.State{
		HealthPct:  90,
		StaminaPct: 80,
		LoadPct:    30,
		Currency:   100000,
		Timestamp:  time.Now(),
	}
}

func TestProcessGoalSuccess(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)

	out, err := c.ProcessGoal(context.Background(), Request{Name: "simple"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.Equal(t, goal.SeverityPrimary, out.PlanUsed)
	assert.NotEmpty(t, out.GoalID)
	assert.True(t, exec.saw("execute_goal"))

	stats := c.GetStatistics()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestProcessGoalBlockedByRisk(t *testing.T) {
	c := newCoordinator(&stubExec{})
	danger := &goal.State{HealthPct: 10, StaminaPct: 5, HostileCount: 20}

	out, err := c.ProcessGoal(context.Background(), Request{Name: "doomed"}, danger)
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusBlocked, out.Status)
	assert.NotEmpty(t, out.BlockingFactors)
	assert.NotEmpty(t, out.Recommended)
	assert.Equal(t, 1, c.GetStatistics().Blocked)
}

func TestRiskAdjustsEntryPlan(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	// Health 25 (+0.4) and six hostiles (+0.2) band as high risk.
	uneasy := &goal.State{HealthPct: 25, StaminaPct: 80, HostileCount: 6}

	out, err := c.ProcessGoal(context.Background(), Request{Name: "careful"}, uneasy)
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.Equal(t, goal.SeverityConservative, out.PlanUsed)

	g := c.Arena().Get(out.GoalID)
	require.NotNil(t, g)
	require.Len(t, g.Transitions, 2)
	assert.Contains(t, g.Transitions[0].Reason, "risk level")
}

func TestProcessGoalValidationError(t *testing.T) {
	c := newCoordinator(&stubExec{})
	req := Request{
		Name: "broken",
		Fallbacks: []goal.ContingencyPlan{{
			Name:     "wrong slot",
			Severity: goal.SeverityConservative,
			Actions:  []goal.Action{{Kind: "x"}},
		}},
	}

	_, err := c.ProcessGoal(context.Background(), req, calmState())
	var ve *goal.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
}

func TestProcessGoalCancelledForcesAbort(t *testing.T) {
	c := newCoordinator(&stubExec{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := c.ProcessGoal(ctx, Request{Name: "late"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusEmergencyAbort, out.Status)
	assert.True(t, out.CharacterSafe)
}

func TestProcessGoalsPriorityOrder(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	reqs := []Request{
		{Name: "minor", Priority: goal.PriorityLow},
		{Name: "urgent", Priority: goal.PriorityCritical},
	}

	outs := c.ProcessGoals(context.Background(), reqs, calmState())
	require.Len(t, outs, 2)
	assert.Equal(t, "urgent", outs[0].GoalName)
	assert.Equal(t, "minor", outs[1].GoalName)
	for _, out := range outs {
		assert.Equal(t, contingency.StatusSuccess, out.Status)
	}
}

func TestProcessGoalsIsolatesStateSnapshots(t *testing.T) {
	exec := &stubExec{}
	cfg := config.Default()
	cfg.Coordinator.MaxConcurrentGoals = 4
	c := New(cfg, exec, nil)

	snapshot := calmState()
	reqs := []Request{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	outs := c.ProcessGoals(context.Background(), reqs, snapshot)
	require.Len(t, outs, 4)
	for _, out := range outs {
		assert.Equal(t, contingency.StatusSuccess, out.Status)
	}

	// Executor effects land in per-goal clones, never the caller's snapshot.
	assert.Empty(t, snapshot.Counters)
}

func TestLearnedProviderConfidenceGate(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	plan := &goal.ContingencyPlan{
		Name:           "pattern",
		Actions:        []goal.Action{{Kind: "learned_action"}},
		TimeoutSeconds: 5,
	}
	c.RegisterProvider(&stubProvider{tier: TierLearned, prop: &Proposal{Plan: plan, Confidence: 0.5}})

	out, err := c.ProcessGoal(context.Background(), Request{Name: "gated"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, TierStrategic, out.Layer)
	assert.False(t, exec.saw("learned_action"))

	c.RegisterProvider(&stubProvider{tier: TierLearned, prop: &Proposal{Plan: plan, Confidence: 0.95}})
	out, err = c.ProcessGoal(context.Background(), Request{Name: "confident"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, TierLearned, out.Layer)
	assert.True(t, exec.saw("learned_action"))
}

func TestRuleBasedTierOnlyForCritical(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	rules := &stubProvider{tier: TierRuleBased, prop: &Proposal{Plan: &goal.ContingencyPlan{
		Name:           "reflex",
		Actions:        []goal.Action{{Kind: "reflex_action"}},
		TimeoutSeconds: 5,
	}}}
	c.RegisterProvider(rules)

	_, err := c.ProcessGoal(context.Background(), Request{Name: "routine", Priority: goal.PriorityMedium}, calmState())
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&rules.calls))

	out, err := c.ProcessGoal(context.Background(), Request{Name: "survive", Priority: goal.PriorityCritical}, calmState())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rules.calls))
	assert.Equal(t, TierRuleBased, out.Layer)
}

func TestStrategicProviderPlanExecutesWithContingency(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	c.RegisterProvider(&stubProvider{tier: TierStrategic, prop: &Proposal{Plan: &goal.ContingencyPlan{
		Name:           "deliberate",
		Actions:        []goal.Action{{Kind: "planned"}},
		TimeoutSeconds: 5,
	}}})

	out, err := c.ProcessGoal(context.Background(), Request{Name: "thoughtful"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.Equal(t, TierStrategic, out.Layer)
	assert.True(t, exec.saw("planned"))
	assert.False(t, exec.saw("execute_goal"))
}

func TestSlowProviderFallsThrough(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	slow := &stubProvider{
		tier:  TierCached,
		delay: 500 * time.Millisecond, // budget is 10ms
		prop:  &Proposal{Plan: &goal.ContingencyPlan{Actions: []goal.Action{{Kind: "cached"}}}},
	}
	c.RegisterProvider(slow)

	out, err := c.ProcessGoal(context.Background(), Request{Name: "impatient"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.False(t, exec.saw("cached"))
	assert.True(t, exec.saw("execute_goal"))
}

func TestFastTierFailureFallsThroughToChain(t *testing.T) {
	exec := &stubExec{failOn: map[string]bool{"cached": true}}
	c := newCoordinator(exec)
	c.RegisterProvider(&stubProvider{tier: TierCached, prop: &Proposal{Plan: &goal.ContingencyPlan{
		Name:           "memoized",
		Actions:        []goal.Action{{Kind: "cached"}},
		TimeoutSeconds: 5,
	}}})

	out, err := c.ProcessGoal(context.Background(), Request{Name: "fallthrough"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.Equal(t, TierStrategic, out.Layer)
	assert.True(t, exec.saw("execute_goal"))
}

// envStub serves a fixed state and records pushed goals.
type envStub struct {
	mu     sync.Mutex
	state  *goal.State
	pushed []string
	fail   bool
}

func (e *envStub) PushGoal(ctx context.Context, g *goal.Goal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("bridge down")
	}
	e.pushed = append(e.pushed, g.Name)
	return nil
}

func (e *envStub) FetchState(ctx context.Context) (*goal.State, error) {
	if e.state == nil {
		return nil, errors.New("bridge down")
	}
	return e.state, nil
}

func TestEnvironmentSyncPreferred(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	env := &envStub{state: calmState()}
	c.SetEnvironmentSync(env)

	// The fallback snapshot is hostile; the bridge state is calm, so the
	// goal must not be blocked.
	danger := &goal.State{HealthPct: 10, StaminaPct: 5, HostileCount: 20}
	out, err := c.ProcessGoal(context.Background(), Request{Name: "bridge"}, danger)
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
	assert.Contains(t, env.pushed, "bridge")
}

func TestEnvironmentSyncDegradesGracefully(t *testing.T) {
	exec := &stubExec{}
	c := newCoordinator(exec)
	c.SetEnvironmentSync(&envStub{fail: true})

	out, err := c.ProcessGoal(context.Background(), Request{Name: "local"}, calmState())
	require.NoError(t, err)
	assert.Equal(t, contingency.StatusSuccess, out.Status)
}

// pastStub reports a configurable historical success rate.
type pastStub struct{ rate float64 }

func (p *pastStub) AnalyzeSimilar(ctx context.Context, g *goal.Goal, lookbackDays int) (*PastAnalysis, error) {
	return &PastAnalysis{SampleSize: 12, SuccessRate: p.rate}, nil
}

func TestLowHistoricalSuccessForcesConservativeStrategy(t *testing.T) {
	c := newCoordinator(&stubExec{})
	c.SetPastAnalyzer(&pastStub{rate: 0.2})

	out, err := c.ProcessGoal(context.Background(), Request{Name: "historied"}, calmState())
	require.NoError(t, err)

	g := c.Arena().Get(out.GoalID)
	require.NotNil(t, g)
	assert.Equal(t, "conservative", g.Primary.ActivationConditions["strategy"])
	assert.Equal(t, "high", g.Primary.ActivationConditions["caution_level"])
}

func TestStatisticsSnapshot(t *testing.T) {
	exec := &stubExec{failOn: map[string]bool{"doomed_action": true}}
	c := newCoordinator(exec)

	_, err := c.ProcessGoal(context.Background(), Request{Name: "ok"}, calmState())
	require.NoError(t, err)
	_, err = c.ProcessGoal(context.Background(), Request{Name: "blocked"},
		&goal.State{HealthPct: 10, StaminaPct: 5, HostileCount: 20})
	require.NoError(t, err)

	stats := c.GetStatistics()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 2, stats.TotalProcessed)
}
