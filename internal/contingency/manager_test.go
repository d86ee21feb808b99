package contingency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"goalforge/internal/goal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptExec fails or panics on configured action kinds and applies simple
// effects otherwise.
type scriptExec struct {
	mu      sync.Mutex
	failOn  map[string]bool
	panicOn map[string]bool
	blockOn map[string]bool
	calls   []string
}

func (s *scriptExec) Execute(ctx context.Context, action goal.Action, state *goal.State) error {
	s.mu.Lock()
	s.calls = append(s.calls, action.Kind)
	fail := s.failOn[action.Kind]
	panics := s.panicOn[action.Kind]
	blocks := s.blockOn[action.Kind]
	s.mu.Unlock()

	if panics {
		panic("executor exploded on " + action.Kind)
	}
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("scripted failure")
	}
	if state != nil {
		switch action.Kind {
		case "move_to_safety":
			state.SafeZone = true
		case "restore_full":
			state.HealthPct = 100
			state.StaminaPct = 100
		default:
			if state.Counters == nil {
				state.Counters = map[string]float64{}
			}
			state.Counters[action.Kind]++
		}
	}
	return nil
}

func (s *scriptExec) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == kind {
			n++
		}
	}
	return n
}

func chainGoal() *goal.Goal {
	g := goal.New("hunt", "hunt in the north field", "farming")
	g.Primary = goal.ContingencyPlan{
		Name:               "optimal",
		Severity:           goal.SeverityPrimary,
		Actions:            []goal.Action{{Kind: "risky"}},
		SuccessProbability: 0.7,
		TimeoutSeconds:     5,
	}
	g.Fallbacks = []goal.ContingencyPlan{
		{
			Name:               "balanced",
			Severity:           goal.SeverityAlternative,
			Actions:            []goal.Action{{Kind: "steady"}},
			SuccessProbability: 0.8,
			TimeoutSeconds:     5,
		},
		{
			Name:               "safe",
			Severity:           goal.SeverityConservative,
			Actions:            []goal.Action{{Kind: "careful"}},
			SuccessProbability: 0.9,
			TimeoutSeconds:     5,
		},
		{
			Name:               "bail out",
			Severity:           goal.SeverityEmergency,
			Actions:            []goal.Action{{Kind: "move_to_safety"}, {Kind: "restore_full"}},
			SuccessProbability: 0.99,
			TimeoutSeconds:     5,
		},
	}
	g.SuccessConditions = map[string]float64{"steady": 1}
	return g
}

func TestPrimaryFailsAlternativeSucceeds(t *testing.T) {
	exec := &scriptExec{failOn: map[string]bool{"risky": true}}
	m := NewManager(exec, nil)

	g := chainGoal()
	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 90})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, goal.SeverityAlternative, res.PlanUsed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, goal.StatusCompleted, g.Status)

	require.Len(t, g.Transitions, 1)
	assert.Equal(t, goal.SeverityPrimary, g.Transitions[0].From)
	assert.Equal(t, goal.SeverityAlternative, g.Transitions[0].To)
}

func TestFailedPlanNotRetried(t *testing.T) {
	exec := &scriptExec{failOn: map[string]bool{"risky": true}}
	m := NewManager(exec, nil)

	g := chainGoal()
	g.Primary.MaxRetries = 2

	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 90})
	assert.Equal(t, StatusSuccess, res.Status)
	// MaxRetries is plan metadata; the chain gives each plan one attempt.
	assert.Equal(t, 1, exec.count("risky"))
	assert.Equal(t, 1, g.FailureCount)
}

func TestAllPlansFailLandsInAbort(t *testing.T) {
	exec := &scriptExec{failOn: map[string]bool{
		"risky": true, "steady": true, "careful": true,
		"move_to_safety": true, "restore_full": true,
	}}
	sink := &memSink{}
	m := NewManager(exec, sink)

	g := chainGoal()
	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 40})

	assert.Equal(t, StatusEmergencyAbort, res.Status)
	assert.True(t, res.CharacterSafe)
	assert.Equal(t, goal.StatusEmergencyAborted, g.Status)
	assert.Equal(t, goal.SeverityEmergency, g.ActivePlan)
	require.NotNil(t, res.PostMortem)
	assert.Equal(t, g.ID, res.PostMortem.GoalID)
	assert.NotEmpty(t, res.PostMortem.FailureReasons)
	assert.Len(t, sink.mortems, 1)
	// One recorded failure per plan in the chain.
	assert.Len(t, sink.failures, 4)
}

func TestPanicTreatedAsPlanFailure(t *testing.T) {
	exec := &scriptExec{panicOn: map[string]bool{"risky": true}}
	m := NewManager(exec, nil)

	g := chainGoal()
	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 90})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, goal.SeverityAlternative, res.PlanUsed)
}

func TestAbortSurvivesPanickingSafetySteps(t *testing.T) {
	exec := &scriptExec{
		failOn:  map[string]bool{"risky": true, "steady": true, "careful": true},
		panicOn: map[string]bool{"move_to_safety": true, "restore_full": true},
	}
	m := NewManager(exec, nil)

	g := chainGoal()
	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 40})

	assert.Equal(t, StatusEmergencyAbort, res.Status)
	assert.True(t, res.CharacterSafe)
}

func TestPlanTimeoutFallsBack(t *testing.T) {
	exec := &scriptExec{blockOn: map[string]bool{"risky": true}}
	m := NewManager(exec, nil)

	g := chainGoal()
	g.Primary.TimeoutSeconds = 1

	start := time.Now()
	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 90})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, goal.SeverityAlternative, res.PlanUsed)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, g.Transitions, 1)
	assert.Contains(t, g.Transitions[0].Reason, "timed out")
}

func TestCancellationForcesAbort(t *testing.T) {
	exec := &scriptExec{blockOn: map[string]bool{"risky": true}}
	m := NewManager(exec, nil)

	g := chainGoal()
	g.Primary.TimeoutSeconds = 30

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	state := &goal.State{HealthPct: 90}
	res := m.ExecuteWithContingency(ctx, g, state)

	assert.Equal(t, StatusEmergencyAbort, res.Status)
	assert.True(t, res.CharacterSafe)
	assert.Equal(t, goal.StatusEmergencyAborted, g.Status)
	// Abort steps run on a detached context, so safety still lands.
	assert.True(t, state.SafeZone)
}

func TestTerminalGoalNotReexecuted(t *testing.T) {
	exec := &scriptExec{}
	m := NewManager(exec, nil)

	g := chainGoal()
	_ = g.StartExecution()
	_ = g.CompleteSuccess()

	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, exec.calls)
}

func TestEntryAtConservativeSkipsEarlierPlans(t *testing.T) {
	exec := &scriptExec{}
	m := NewManager(exec, nil)

	g := chainGoal()
	g.SuccessConditions = map[string]float64{"careful": 1}
	_ = g.StartExecution()
	_ = g.SwitchToFallback("high risk entry")
	_ = g.SwitchToFallback("high risk entry")

	res := m.ExecuteWithContingency(context.Background(), g, &goal.State{HealthPct: 90})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, goal.SeverityConservative, res.PlanUsed)
	assert.Zero(t, exec.count("risky"))
	assert.Zero(t, exec.count("steady"))
}

// memSink collects audit records in memory.
type memSink struct {
	mu       sync.Mutex
	failures []FailureRecord
	mortems  []PostMortem
}

func (s *memSink) RecordPlanFailure(_ context.Context, rec FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, rec)
	return nil
}

func (s *memSink) RecordPostMortem(_ context.Context, pm PostMortem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mortems = append(s.mortems, pm)
	return nil
}
