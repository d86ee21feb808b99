package coordinator

import (
	"strings"

	"go.uber.org/zap"

	"goalforge/internal/goal"
)

// ResolveConflicts detects contention among the goals, merges compatible
// conflicting goals and serializes the rest via prerequisites. The output
// never has more goals than the input, and no returned goal still conflicts
// with another returned goal.
func (c *Coordinator) ResolveConflicts(goals []*goal.Goal) []*goal.Goal {
	conflicts := c.alloc.DetectConflicts(goals)
	if len(conflicts) == 0 {
		return goals
	}
	c.log.Info("resolving conflicts",
		zap.Int("goals", len(goals)),
		zap.Int("conflicts", len(conflicts)))

	absorbed := make(map[string]bool)
	var resolved []*goal.Goal

	for _, g := range goals {
		if absorbed[g.ID] {
			continue
		}

		var conflicting []*goal.Goal
		for _, other := range goals {
			if other.ID == g.ID || absorbed[other.ID] {
				continue
			}
			if containsID(g.Conflicts, other.ID) {
				conflicting = append(conflicting, other)
			}
		}
		if len(conflicting) == 0 {
			resolved = append(resolved, g)
			continue
		}

		var mergeable, unmergeable []*goal.Goal
		for _, other := range conflicting {
			if canMerge(g, other) {
				mergeable = append(mergeable, other)
			} else {
				unmergeable = append(unmergeable, other)
			}
		}

		if len(mergeable) > 0 {
			merged := mergeGoals(g, mergeable)
			c.log.Info("merged conflicting goals",
				zap.String("merged", merged.Name),
				zap.Int("sources", len(mergeable)+1))
			absorbed[g.ID] = true
			for _, m := range mergeable {
				absorbed[m.ID] = true
				c.arena.Remove(m.ID)
			}
			c.arena.Remove(g.ID)
			c.arena.Put(merged)
			resolved = append(resolved, merged)
			// Whatever could not merge runs after the merged goal.
			for _, u := range unmergeable {
				u.Prerequisites = append(u.Prerequisites, merged.ID)
				u.RemoveConflict(g.ID)
				for _, src := range mergeable {
					u.RemoveConflict(src.ID)
				}
			}
			continue
		}

		// Nothing mergeable: serialize the whole conflicting set behind g.
		// Ordering resolves every pair in the chain, not just neighbors.
		chain := append([]*goal.Goal{g}, unmergeable...)
		for i := 0; i < len(chain); i++ {
			for j := i + 1; j < len(chain); j++ {
				chain[i].RemoveConflict(chain[j].ID)
				chain[j].RemoveConflict(chain[i].ID)
			}
		}
		resolved = append(resolved, g)
		prev := g
		for _, u := range unmergeable {
			u.Prerequisites = append(u.Prerequisites, prev.ID)
			resolved = append(resolved, u)
			absorbed[u.ID] = true
			prev = u
		}
	}

	c.log.Info("conflicts resolved",
		zap.Int("input", len(goals)),
		zap.Int("output", len(resolved)))
	return resolved
}

// canMerge allows merging goals of the same type contending for the same
// exclusive resource.
func canMerge(a, b *goal.Goal) bool {
	if a.Type == "" || a.Type != b.Type {
		return false
	}
	for _, ka := range a.Exclusive {
		for _, kb := range b.Exclusive {
			if ka == kb {
				return true
			}
		}
	}
	return false
}

// mergeGoals combines a goal with its mergeable conflict set: cumulative
// targets sum, threshold targets take the max, priority takes the max, tags
// union. The merged goal carries the first goal's plan chain.
func mergeGoals(a *goal.Goal, others []*goal.Goal) *goal.Goal {
	names := []string{a.Name}
	ids := []string{a.ID}
	for _, o := range others {
		names = append(names, o.Name)
		ids = append(ids, o.ID)
	}

	merged := goal.New(strings.Join(names, "+"), "merged: "+strings.Join(names, ", "), a.Type)
	merged.Priority = a.Priority
	merged.TimeScale = a.TimeScale
	merged.EstimatedSeconds = a.EstimatedSeconds
	merged.Primary = a.Primary
	merged.Fallbacks = append([]goal.ContingencyPlan(nil), a.Fallbacks...)
	merged.Exclusive = append([]string(nil), a.Exclusive...)
	merged.Metadata["merged_from"] = strings.Join(ids, ",")

	merged.SuccessConditions = make(map[string]float64, len(a.SuccessConditions))
	for k, v := range a.SuccessConditions {
		merged.SuccessConditions[k] = v
	}
	merged.Requested = make(map[string]float64, len(a.Requested))
	for k, v := range a.Requested {
		merged.Requested[k] = v
	}
	tagSet := make(map[string]bool)
	for _, t := range a.Tags {
		tagSet[t] = true
	}

	for _, o := range others {
		if o.Priority > merged.Priority {
			merged.Priority = o.Priority
		}
		for k, v := range o.SuccessConditions {
			if thresholdKeys[k] {
				if v > merged.SuccessConditions[k] {
					merged.SuccessConditions[k] = v
				}
			} else {
				merged.SuccessConditions[k] += v
			}
		}
		for k, v := range o.Requested {
			if merged.Requested[k] < v {
				merged.Requested[k] = v
			}
		}
		for _, t := range o.Tags {
			tagSet[t] = true
		}
	}
	for t := range tagSet {
		merged.Tags = append(merged.Tags, t)
	}

	merged.EnsureFallbacks()
	return merged
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
