package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalforge/internal/contingency"
	"goalforge/internal/goal"
)

func openSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryPostMortems(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()

	pm := contingency.PostMortem{
		GoalID:     "g-1",
		GoalName:   "hunt",
		GoalType:   "farming",
		PlansTried: []goal.Severity{goal.SeverityPrimary, goal.SeverityAlternative},
		FailureReasons: map[string][]string{
			string(goal.SeverityPrimary): {"timed out"},
		},
		FinalReason:   "all plans exhausted",
		TotalAttempts: 1,
		TotalFailures: 3,
		Timestamp:     time.Now(),
	}
	require.NoError(t, s.RecordPostMortem(ctx, pm))

	got, err := s.RecentPostMortems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hunt", got[0].GoalName)
	assert.Equal(t, "all plans exhausted", got[0].FinalReason)
	assert.Equal(t, pm.PlansTried, got[0].PlansTried)
	assert.Equal(t, pm.FailureReasons, got[0].FailureReasons)
}

func TestRecentPostMortemsNewestFirst(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, s.RecordPostMortem(ctx, contingency.PostMortem{
			GoalID:      name,
			GoalName:    name,
			GoalType:    "general",
			FinalReason: "r",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentPostMortems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newest", got[0].GoalName)
	assert.Equal(t, "middle", got[1].GoalName)
}

func TestFailureCounts(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()

	now := time.Now()
	records := []contingency.FailureRecord{
		{GoalID: "g", GoalName: "g", Plan: goal.SeverityPrimary, Reason: "x", Attempt: 1, Timestamp: now},
		{GoalID: "g", GoalName: "g", Plan: goal.SeverityPrimary, Reason: "y", Attempt: 2, Timestamp: now},
		{GoalID: "g", GoalName: "g", Plan: goal.SeverityAlternative, Reason: "z", Attempt: 1, Timestamp: now},
		// Old record outside the window.
		{GoalID: "g", GoalName: "g", Plan: goal.SeverityPrimary, Reason: "stale", Attempt: 1, Timestamp: now.AddDate(0, 0, -60)},
	}
	for _, rec := range records {
		require.NoError(t, s.RecordPlanFailure(ctx, rec))
	}

	counts, err := s.FailureCounts(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[string(goal.SeverityPrimary)])
	assert.Equal(t, 1, counts[string(goal.SeverityAlternative)])
}

func TestSinkSatisfiesAuditInterface(t *testing.T) {
	var _ contingency.AuditSink = openSink(t)
}
