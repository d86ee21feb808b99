package coordinator

import (
	"fmt"

	"go.uber.org/zap"

	"goalforge/internal/goal"
)

const (
	daySeconds     = 86400
	weekSeconds    = 604800
	sessionSeconds = 7200
)

// thresholdKeys are point-in-time success conditions. They carry over to
// every sub-goal unchanged; everything else is cumulative and divides.
var thresholdKeys = map[string]bool{
	"health_pct":  true,
	"stamina_pct": true,
	"safe_zone":   true,
	"level":       true,
}

// DecomposeGoal splits a goal by its time scale: short goals execute as-is,
// medium goals become daily slices, long goals become one sub-goal per
// declared milestone or, without milestones, a single renewable session.
// Sub-goals link back to the parent by id and register in the arena.
func (c *Coordinator) DecomposeGoal(parent *goal.Goal) []*goal.Goal {
	c.log.Info("decomposing goal",
		zap.String("goal", parent.Name),
		zap.String("time_scale", string(parent.TimeScale)))

	var subs []*goal.Goal
	switch parent.TimeScale {
	case goal.ScaleMedium:
		subs = c.decomposeDaily(parent)
	case goal.ScaleLong:
		if len(parent.Milestones) > 0 {
			subs = c.decomposeByMilestones(parent)
		} else {
			subs = []*goal.Goal{c.renewableSession(parent)}
		}
	default:
		return []*goal.Goal{parent}
	}

	c.arena.Put(parent)
	for _, s := range subs {
		parent.SubGoals = append(parent.SubGoals, s.ID)
		c.arena.Put(s)
	}
	c.log.Info("decomposition complete",
		zap.String("goal", parent.Name),
		zap.Int("sub_goals", len(subs)))
	return subs
}

// decomposeDaily splits cumulative targets evenly across the estimated days.
func (c *Coordinator) decomposeDaily(parent *goal.Goal) []*goal.Goal {
	days := parent.EstimatedSeconds / daySeconds
	if days <= 0 {
		days = 5
	}
	subs := make([]*goal.Goal, 0, days)
	for day := 1; day <= days; day++ {
		s := c.childOf(parent,
			fmt.Sprintf("%s_day%d", parent.Name, day),
			fmt.Sprintf("day %d of %s", day, parent.Description))
		s.TimeScale = goal.ScaleShort
		s.EstimatedSeconds = daySeconds
		s.SuccessConditions = scaleConditions(parent.SuccessConditions, 1.0/float64(days))
		s.AddMilestone(fmt.Sprintf("day %d completion", day), 1.0, "daily slice complete")
		subs = append(subs, s)
	}
	return subs
}

// decomposeByMilestones creates one medium-scale sub-goal per milestone,
// each targeting the milestone's fraction of the parent's conditions.
func (c *Coordinator) decomposeByMilestones(parent *goal.Goal) []*goal.Goal {
	subs := make([]*goal.Goal, 0, len(parent.Milestones))
	for i := range parent.Milestones {
		m := &parent.Milestones[i]
		if m.Completed {
			continue
		}
		s := c.childOf(parent,
			fmt.Sprintf("%s_%s", parent.Name, m.Name),
			"milestone: "+m.Name)
		s.TimeScale = goal.ScaleMedium
		s.EstimatedSeconds = weekSeconds
		s.SuccessConditions = scaleConditions(parent.SuccessConditions, m.TargetProgress)
		subs = append(subs, s)
	}
	return subs
}

// renewableSession produces a short recreatable slice of an open-ended goal.
func (c *Coordinator) renewableSession(parent *goal.Goal) *goal.Goal {
	frac := 1.0
	if parent.EstimatedSeconds > sessionSeconds {
		frac = float64(sessionSeconds) / float64(parent.EstimatedSeconds)
	}
	s := c.childOf(parent, parent.Name+"_session", "session of "+parent.Description)
	s.TimeScale = goal.ScaleShort
	s.EstimatedSeconds = sessionSeconds
	s.SuccessConditions = scaleConditions(parent.SuccessConditions, frac)
	s.Metadata["renewable"] = "true"
	return s
}

// childOf copies the inheritable parts of the parent into a new sub-goal.
func (c *Coordinator) childOf(parent *goal.Goal, name, description string) *goal.Goal {
	s := goal.New(name, description, parent.Type)
	s.Priority = parent.Priority
	s.ParentGoalID = parent.ID
	s.Primary = parent.Primary
	s.Tags = append([]string(nil), parent.Tags...)
	s.EnsureFallbacks()
	return s
}

func scaleConditions(conds map[string]float64, frac float64) map[string]float64 {
	out := make(map[string]float64, len(conds))
	for k, v := range conds {
		if thresholdKeys[k] {
			out[k] = v
		} else {
			out[k] = v * frac
		}
	}
	return out
}

// MilestoneReport is the result of one tracking pass.
type MilestoneReport struct {
	Total           int             `json:"total_milestones"`
	Completed       int             `json:"completed_milestones"`
	Pending         int             `json:"pending_milestones"`
	ProgressPercent float64         `json:"progress_percent"`
	Next            *goal.Milestone `json:"next_milestone,omitempty"`
	Notifications   []string        `json:"notifications,omitempty"`
}

var progressThresholds = []int{25, 50, 75, 100}

// TrackMilestones reports milestone progress and fires quarter-progress
// notifications. Notifications are monotonic per goal: each threshold fires
// once, however many tracking passes observe it.
func (c *Coordinator) TrackMilestones(g *goal.Goal) MilestoneReport {
	report := MilestoneReport{Total: len(g.Milestones)}
	if report.Total == 0 {
		return report
	}

	for i := range g.Milestones {
		if g.Milestones[i].Completed {
			report.Completed++
		} else if report.Next == nil {
			report.Next = &g.Milestones[i]
		}
	}
	report.Pending = report.Total - report.Completed
	report.ProgressPercent = float64(report.Completed) / float64(report.Total) * 100

	c.mu.Lock()
	fired := c.milestoneNotified[g.ID]
	if fired == nil {
		fired = make(map[int]bool)
		c.milestoneNotified[g.ID] = fired
	}
	for _, t := range progressThresholds {
		if report.ProgressPercent >= float64(t) && !fired[t] {
			fired[t] = true
			report.Notifications = append(report.Notifications,
				fmt.Sprintf("%s: %d%% complete", g.Name, t))
		}
	}
	c.mu.Unlock()

	for _, msg := range report.Notifications {
		c.log.Info("milestone progress", zap.String("goal", g.Name), zap.String("message", msg))
		if c.notifier != nil {
			c.notifier.Notify(g.ID, msg)
		}
	}
	return report
}
