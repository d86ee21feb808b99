package goal

import "time"

// State is the agent's observable snapshot at one instant. It is produced by
// the environment side and consumed read-only by the evaluator and the
// contingency manager; the engine never simulates the environment itself.
type State struct {
	HealthPct  float64 `json:"health_pct"`
	StaminaPct float64 `json:"stamina_pct"`
	LoadPct    float64 `json:"load_pct"`

	HostileCount int    `json:"hostile_count"`
	Location     string `json:"location"`
	SafeZone     bool   `json:"safe_zone"`

	Level     int `json:"level"`
	KillCount int `json:"kill_count"`

	// Inventory counts and currency for resource-sufficiency checks.
	Inventory map[string]int `json:"inventory,omitempty"`
	Currency  int64          `json:"currency"`

	// Counters is the escape hatch for domain-specific success conditions
	// the engine does not model explicitly.
	Counters map[string]float64 `json:"counters,omitempty"`

	PartySize int       `json:"party_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Satisfies checks a goal's success conditions against the snapshot.
// Known keys map onto typed fields; anything else is looked up in Counters
// as a >= threshold. Boolean conditions use 1/0.
func (s *State) Satisfies(conditions map[string]float64) bool {
	if s == nil {
		return false
	}
	for key, want := range conditions {
		switch key {
		case "kills":
			if float64(s.KillCount) < want {
				return false
			}
		case "health_pct":
			if s.HealthPct < want {
				return false
			}
		case "stamina_pct":
			if s.StaminaPct < want {
				return false
			}
		case "level":
			if float64(s.Level) < want {
				return false
			}
		case "currency":
			if float64(s.Currency) < want {
				return false
			}
		case "safe_zone":
			if s.SafeZone != (want != 0) {
				return false
			}
		default:
			if s.Counters[key] < want {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy for snapshotting in post-mortems.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Inventory != nil {
		out.Inventory = make(map[string]int, len(s.Inventory))
		for k, v := range s.Inventory {
			out.Inventory[k] = v
		}
	}
	if s.Counters != nil {
		out.Counters = make(map[string]float64, len(s.Counters))
		for k, v := range s.Counters {
			out.Counters[k] = v
		}
	}
	return &out
}
