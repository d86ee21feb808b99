package goal

import "sync"

// Arena is the id-indexed store for live goals. Hierarchy links
// (parent/sub-goal/prerequisite) are plain ids resolved through the arena,
// never owning references, so goal graphs cannot form reference cycles.
//
// The arena guards its index only; a goal object is exclusively owned by
// whichever task is currently advancing it.
type Arena struct {
	mu    sync.RWMutex
	goals map[string]*Goal
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{goals: make(map[string]*Goal)}
}

// Put registers a goal, replacing any previous entry with the same id.
func (a *Arena) Put(g *Goal) {
	a.mu.Lock()
	a.goals[g.ID] = g
	a.mu.Unlock()
}

// Get returns the goal for an id, or nil.
func (a *Arena) Get(id string) *Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.goals[id]
}

// Remove drops a goal from the active set.
func (a *Arena) Remove(id string) {
	a.mu.Lock()
	delete(a.goals, id)
	a.mu.Unlock()
}

// Active returns all non-terminal goals.
func (a *Arena) Active() []*Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Goal, 0, len(a.goals))
	for _, g := range a.goals {
		if !g.Status.Terminal() {
			out = append(out, g)
		}
	}
	return out
}

// All returns every stored goal.
func (a *Arena) All() []*Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Goal, 0, len(a.goals))
	for _, g := range a.goals {
		out = append(out, g)
	}
	return out
}

// Len returns the number of stored goals.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.goals)
}

// PrerequisitesDone reports whether every prerequisite of g is completed.
// Unknown prerequisite ids count as unmet.
func (a *Arena) PrerequisitesDone(g *Goal) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, id := range g.Prerequisites {
		dep, ok := a.goals[id]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}
