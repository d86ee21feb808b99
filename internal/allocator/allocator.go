// Package allocator schedules the shared resource pool across competing
// goals. All mutation funnels through one mutex-guarded owner so a full
// recompute pass never observes another pass's partial writes.
//
// Dimensions are plain named quantities (rates, percentages, counts) plus
// exclusive keys where any two requesters conflict outright.
package allocator

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"goalforge/internal/config"
	"goalforge/internal/goal"
	"goalforge/internal/logging"
)

// Conflict records one pairwise contention between goals over a resource key.
type Conflict struct {
	GoalA    string `json:"goal_a"`
	GoalB    string `json:"goal_b"`
	Resource string `json:"resource"`
}

// Utilization summarizes one dimension of the pool.
type Utilization struct {
	Total     float64 `json:"total"`
	Allocated float64 `json:"allocated"`
	Available float64 `json:"available"`
	Percent   float64 `json:"percent"`
}

// Allocator owns the pool. It is safe for concurrent use; every public
// method takes the single lock for its whole pass.
type Allocator struct {
	mu sync.Mutex

	capacity  map[string]float64
	floors    map[string]float64
	exclusive map[string]bool

	allocated map[string]float64
	byGoal    map[string]map[string]float64

	log *zap.Logger
}

// New builds an allocator from the resource configuration.
func New(cfg config.ResourceConfig) *Allocator {
	a := &Allocator{
		capacity:  make(map[string]float64, len(cfg.Capacity)),
		floors:    make(map[string]float64, len(cfg.CriticalFloor)),
		exclusive: make(map[string]bool, len(cfg.Exclusive)),
		allocated: make(map[string]float64),
		byGoal:    make(map[string]map[string]float64),
		log:       logging.Get(logging.CategoryAllocator),
	}
	for dim, total := range cfg.Capacity {
		a.capacity[dim] = total
	}
	for dim, floor := range cfg.CriticalFloor {
		a.floors[dim] = floor
	}
	for _, dim := range cfg.Exclusive {
		a.exclusive[dim] = true
	}
	return a
}

// Allocate recomputes the full allocation for the given goals, writing the
// resulting grants onto each goal and returning them keyed by goal id.
//
// CRITICAL goals are served first at their guaranteed floor per dimension;
// the remainder is split among the rest proportionally to priority weight.
// Per-dimension grant sums never exceed capacity.
func (a *Allocator) Allocate(goals []*goal.Goal) map[string]map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allocated = make(map[string]float64)
	a.byGoal = make(map[string]map[string]float64)

	plan := make(map[string]map[string]float64, len(goals))
	if len(goals) == 0 {
		return plan
	}

	var nonCritical []*goal.Goal
	for _, g := range goals {
		if g.Priority == goal.PriorityCritical {
			grant := a.grantCriticalLocked(g)
			plan[g.ID] = grant
		} else {
			nonCritical = append(nonCritical, g)
		}
	}

	if len(nonCritical) > 0 {
		remaining := a.remainingLocked()
		var weightSum float64
		for _, g := range nonCritical {
			weightSum += g.Priority.Weight()
		}
		for _, g := range nonCritical {
			grant := make(map[string]float64, len(remaining))
			share := g.Priority.Weight() / weightSum
			for dim, avail := range remaining {
				amount := avail * share
				grant[dim] = amount
				a.allocated[dim] += amount
			}
			a.byGoal[g.ID] = grant
			g.Grants = grant
			plan[g.ID] = grant
		}
	}

	a.log.Debug("allocation pass complete",
		zap.Int("goals", len(goals)),
		zap.Int("critical", len(goals)-len(nonCritical)))
	return plan
}

// grantCriticalLocked serves one CRITICAL goal its floor per dimension,
// clamped to what is left so sums never exceed capacity.
func (a *Allocator) grantCriticalLocked(g *goal.Goal) map[string]float64 {
	grant := make(map[string]float64, len(a.floors)+1)
	for dim, floor := range a.floors {
		left := a.capacity[dim] - a.allocated[dim]
		amount := floor
		if amount > left {
			amount = left
		}
		if amount < 0 {
			amount = 0
		}
		grant[dim] = amount
		a.allocated[dim] += amount
	}
	// Exclusive slots go whole to critical goals while one is free.
	for dim := range a.exclusive {
		left := a.capacity[dim] - a.allocated[dim]
		if left >= 1 {
			grant[dim] = 1
			a.allocated[dim]++
		}
	}
	a.byGoal[g.ID] = grant
	g.Grants = grant
	return grant
}

func (a *Allocator) remainingLocked() map[string]float64 {
	remaining := make(map[string]float64, len(a.capacity))
	for dim, total := range a.capacity {
		left := total - a.allocated[dim]
		if left < 0 {
			left = 0
		}
		remaining[dim] = left
	}
	return remaining
}

// DetectConflicts flags contention among the given goals and records it on
// their conflict sets.
//
// Two rules apply: any two requesters of the same exclusive key conflict
// pairwise, and when total demand for a dimension exceeds capacity every
// requester of that dimension is flagged against every other. The second
// rule is deliberately coarse: it marks the whole competing set, not a
// minimal offending subset.
func (a *Allocator) DetectConflicts(goals []*goal.Goal) []Conflict {
	a.mu.Lock()
	defer a.mu.Unlock()

	var conflicts []Conflict

	// Exclusive keys: single occupancy.
	byKey := make(map[string][]*goal.Goal)
	for _, g := range goals {
		for _, key := range g.Exclusive {
			byKey[key] = append(byKey[key], g)
		}
	}
	for key, holders := range byKey {
		for i := 0; i < len(holders); i++ {
			for j := i + 1; j < len(holders); j++ {
				conflicts = append(conflicts, Conflict{GoalA: holders[i].ID, GoalB: holders[j].ID, Resource: key})
				holders[i].AddConflict(holders[j].ID)
				holders[j].AddConflict(holders[i].ID)
			}
		}
	}

	// Oversubscribed dimensions: flag the whole competing set.
	demand := make(map[string]float64)
	requesters := make(map[string][]*goal.Goal)
	for _, g := range goals {
		for dim, amount := range g.Requested {
			if amount <= 0 {
				continue
			}
			demand[dim] += amount
			requesters[dim] = append(requesters[dim], g)
		}
	}
	for dim, total := range demand {
		capTotal, ok := a.capacity[dim]
		if !ok || total <= capTotal {
			continue
		}
		a.log.Warn("resource oversubscription",
			zap.String("dimension", dim),
			zap.Float64("demand", total),
			zap.Float64("capacity", capTotal))
		comp := requesters[dim]
		for i := 0; i < len(comp); i++ {
			for j := i + 1; j < len(comp); j++ {
				conflicts = append(conflicts, Conflict{GoalA: comp[i].ID, GoalB: comp[j].ID, Resource: dim})
				comp[i].AddConflict(comp[j].ID)
				comp[j].AddConflict(comp[i].ID)
			}
		}
	}

	return conflicts
}

// Reserve makes a point-in-time, atomically checked single-resource grant
// outside the full recompute. It fails when the dimension lacks headroom.
func (a *Allocator) Reserve(goalID, dimension string, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	available := a.capacity[dimension] - a.allocated[dimension]
	if amount > available {
		return fmt.Errorf("reserve %s: need %.2f, have %.2f", dimension, amount, available)
	}
	a.allocated[dimension] += amount
	if a.byGoal[goalID] == nil {
		a.byGoal[goalID] = make(map[string]float64)
	}
	a.byGoal[goalID][dimension] += amount
	a.log.Debug("reserved resource",
		zap.String("goal", goalID),
		zap.String("dimension", dimension),
		zap.Float64("amount", amount))
	return nil
}

// Release returns every grant held by a goal to the pool.
func (a *Allocator) Release(goalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	grants, ok := a.byGoal[goalID]
	if !ok {
		return
	}
	for dim, amount := range grants {
		a.allocated[dim] -= amount
		if a.allocated[dim] < 0 {
			a.allocated[dim] = 0
		}
	}
	delete(a.byGoal, goalID)
	a.log.Debug("released resources", zap.String("goal", goalID))
}

// Available returns the unallocated remainder per dimension.
func (a *Allocator) Available() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remainingLocked()
}

// Utilizations returns per-dimension pool statistics.
func (a *Allocator) Utilizations() map[string]Utilization {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Utilization, len(a.capacity))
	for dim, total := range a.capacity {
		used := a.allocated[dim]
		pct := 0.0
		if total > 0 {
			pct = used / total * 100
		}
		out[dim] = Utilization{Total: total, Allocated: used, Available: total - used, Percent: pct}
	}
	return out
}
