// Package coordinator orchestrates the full goal pipeline: past analysis,
// present evaluation, future prediction, goal synthesis, tiered plan
// dispatch, contingency execution, decomposition, milestone tracking and
// conflict resolution.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goalforge/internal/allocator"
	"goalforge/internal/config"
	"goalforge/internal/contingency"
	"goalforge/internal/evaluator"
	"goalforge/internal/goal"
	"goalforge/internal/logging"
	"goalforge/internal/persistence"
)

// Outcome is the terminal result of processing one request.
type Outcome struct {
	Status          contingency.Status      `json:"status"`
	GoalID          string                  `json:"goal_id,omitempty"`
	GoalName        string                  `json:"goal_name"`
	Layer           Tier                    `json:"layer,omitempty"`
	PlanUsed        goal.Severity           `json:"plan_used,omitempty"`
	Attempts        int                     `json:"attempts"`
	Reason          string                  `json:"reason,omitempty"`
	BlockingFactors []string                `json:"blocking_factors,omitempty"`
	Recommended     []string                `json:"recommended_actions,omitempty"`
	CharacterSafe   bool                    `json:"character_safe"`
	PostMortem      *contingency.PostMortem `json:"post_mortem,omitempty"`
	ProcessingTime  time.Duration           `json:"processing_time"`
}

// Statistics is a point-in-time snapshot of coordinator activity.
type Statistics struct {
	Active         int          `json:"active"`
	Completed      int          `json:"completed"`
	Failed         int          `json:"failed"`
	Aborted        int          `json:"aborted"`
	Blocked        int          `json:"blocked"`
	TotalProcessed int          `json:"total_processed"`
	SuccessRate    float64      `json:"success_rate"`
	LayerUse       map[Tier]int `json:"layer_use"`
}

// Coordinator wires the engine components together.
type Coordinator struct {
	cfg     *config.Config
	arena   *goal.Arena
	alloc   *allocator.Allocator
	eval    *evaluator.Evaluator
	manager *contingency.Manager
	log     *zap.Logger

	providers map[Tier]PlanProvider
	past      PastAnalyzer
	future    FuturePredictor
	env       EnvironmentSync
	notifier  Notifier
	persist   *persistence.Manager

	mu                sync.Mutex
	stats             Statistics
	milestoneNotified map[string]map[int]bool
}

// New builds a coordinator around an action executor and audit sink.
// Providers and collaborators are attached afterwards; all are optional.
func New(cfg *config.Config, exec contingency.ActionExecutor, sink contingency.AuditSink) *Coordinator {
	arena := goal.NewArena()
	return &Coordinator{
		cfg:               cfg,
		arena:             arena,
		alloc:             allocator.New(cfg.Resources),
		eval:              evaluator.New(arena),
		manager:           contingency.NewManager(exec, sink),
		log:               logging.Get(logging.CategoryCoordinator),
		providers:         make(map[Tier]PlanProvider),
		stats:             Statistics{LayerUse: make(map[Tier]int)},
		milestoneNotified: make(map[string]map[int]bool),
	}
}

// RegisterProvider attaches a plan provider; one per tier, last wins.
func (c *Coordinator) RegisterProvider(p PlanProvider) { c.providers[p.Tier()] = p }

// SetPastAnalyzer attaches the historical analyzer.
func (c *Coordinator) SetPastAnalyzer(p PastAnalyzer) { c.past = p }

// SetFuturePredictor attaches the outcome predictor.
func (c *Coordinator) SetFuturePredictor(f FuturePredictor) { c.future = f }

// SetEnvironmentSync attaches the environment bridge.
func (c *Coordinator) SetEnvironmentSync(e EnvironmentSync) { c.env = e }

// SetNotifier attaches the milestone notifier.
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// SetPersistence attaches the state persister; when set, the goal set is
// saved after every processed request.
func (c *Coordinator) SetPersistence(p *persistence.Manager) { c.persist = p }

// Arena exposes the live goal set.
func (c *Coordinator) Arena() *goal.Arena { return c.arena }

// Allocator exposes the resource pool.
func (c *Coordinator) Allocator() *allocator.Allocator { return c.alloc }

// ProcessGoal runs one request through the full pipeline. It returns a
// terminal-shaped outcome for every input; the only error is a synthesis
// ValidationError. A panic anywhere below is converted into an emergency
// abort outcome.
func (c *Coordinator) ProcessGoal(ctx context.Context, req Request, state *goal.State) (out Outcome, err error) {
	start := time.Now()
	c.log.Info("processing goal request", zap.String("name", req.Name))

	state = c.currentState(ctx, state)

	g, err := c.synthesize(ctx, req, state)
	if err != nil {
		return Outcome{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic during goal processing",
				zap.String("goal", g.Name), zap.Any("panic", r))
			g.EmergencyAbort(fmt.Sprintf("panic: %v", r))
			out = Outcome{
				Status:         contingency.StatusEmergencyAbort,
				GoalID:         g.ID,
				GoalName:       g.Name,
				Reason:         fmt.Sprintf("panic: %v", r),
				CharacterSafe:  true,
				ProcessingTime: time.Since(start),
			}
			err = nil
			c.record(out)
		}
	}()

	feas := c.eval.EvaluateFeasibility(g, state)
	if !feas.Feasible {
		c.log.Warn("goal blocked",
			zap.String("goal", g.Name),
			zap.Strings("blocking", feas.BlockingFactors))
		out = Outcome{
			Status:          contingency.StatusBlocked,
			GoalID:          g.ID,
			GoalName:        g.Name,
			Reason:          "not feasible in current state",
			BlockingFactors: feas.BlockingFactors,
			Recommended:     feas.Preparation,
			ProcessingTime:  time.Since(start),
		}
		c.record(out)
		return out, nil
	}

	// Risk decides where in the chain execution enters.
	for g.ActivePlan.Index() < feas.RecommendedEntry.Index() {
		if serr := g.SwitchToFallback("risk level " + string(feas.Risk.Level)); serr != nil {
			break
		}
	}

	if c.future != nil {
		if pred, perr := c.future.PredictOutcome(ctx, g, state); perr == nil && pred != nil {
			if g.EstimatedSeconds <= 0 && pred.ExpectedSeconds > 0 {
				g.EstimatedSeconds = pred.ExpectedSeconds
			}
			c.log.Debug("outcome predicted",
				zap.Float64("success_probability", pred.SuccessProbability),
				zap.Strings("risks", pred.Risks))
		}
	}

	c.arena.Put(g)
	c.alloc.Allocate(c.arena.Active())
	c.pushToEnvironment(ctx, g)

	res := c.executeWithLayers(ctx, g, state)

	out = Outcome{
		Status:         res.Status,
		GoalID:         g.ID,
		GoalName:       g.Name,
		Layer:          res.Layer,
		PlanUsed:       res.PlanUsed,
		Attempts:       res.Attempts,
		Reason:         res.Reason,
		CharacterSafe:  res.CharacterSafe,
		PostMortem:     res.PostMortem,
		ProcessingTime: time.Since(start),
	}
	c.alloc.Release(g.ID)
	c.record(out)
	c.saveState()

	c.log.Info("goal processing complete",
		zap.String("goal", g.Name),
		zap.String("status", string(out.Status)),
		zap.Duration("elapsed", out.ProcessingTime))
	return out, nil
}

// ProcessGoals processes requests in priority order with bounded
// concurrency. Results come back in processing order; a single bad request
// yields a failed outcome rather than stopping the batch.
func (c *Coordinator) ProcessGoals(ctx context.Context, reqs []Request, state *goal.State) []Outcome {
	if len(reqs) == 0 {
		return nil
	}
	state = c.currentState(ctx, state)

	// Prioritize on throwaway goals so ordering never mutates requests.
	temps := make([]*goal.Goal, len(reqs))
	byID := make(map[string]Request, len(reqs))
	for i, req := range reqs {
		t := goal.New(req.Name, req.Description, req.Type)
		if req.Priority.Valid() {
			t.Priority = req.Priority
		}
		t.Deadline = req.Deadline
		temps[i] = t
		byID[t.ID] = req
	}
	ordered := c.eval.PrioritizeGoals(temps, state)

	limit := c.cfg.Coordinator.MaxConcurrentGoals
	if limit <= 0 {
		limit = 1
	}
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(limit)

	results := make([]Outcome, len(ordered))
	for i, t := range ordered {
		i, req := i, byID[t.ID]
		grp.Go(func() error {
			// Each goal mutates its own snapshot; only the resource pool
			// is shared across concurrent executions.
			out, err := c.ProcessGoal(gctx, req, state.Clone())
			if err != nil {
				out = Outcome{
					Status:   contingency.StatusFailed,
					GoalName: req.Name,
					Reason:   err.Error(),
				}
			}
			results[i] = out
			return nil
		})
	}
	_ = grp.Wait()
	return results
}

// synthesize builds a validated goal from a request, folding in historical
// analysis. A low historical success rate forces a conservative primary
// strategy before the first attempt.
func (c *Coordinator) synthesize(ctx context.Context, req Request, state *goal.State) (*goal.Goal, error) {
	g := goal.New(req.Name, req.Description, req.Type)
	if req.Priority.Valid() {
		g.Priority = req.Priority
	}
	if req.TimeScale != "" {
		g.TimeScale = req.TimeScale
	}
	if req.EstimatedSeconds > 0 {
		g.EstimatedSeconds = req.EstimatedSeconds
	}
	g.Deadline = req.Deadline
	g.SuccessConditions = req.SuccessConditions
	g.Requested = req.Requested
	g.Exclusive = req.Exclusive
	g.Tags = req.Tags
	for k, v := range req.Metadata {
		g.Metadata[k] = v
	}

	if req.Primary != nil {
		g.Primary = *req.Primary
	} else {
		g.Primary = goal.ContingencyPlan{
			Name:               "primary",
			Description:        "requested approach",
			Actions:            []goal.Action{{Kind: "execute_goal"}},
			SuccessProbability: 0.7,
		}
	}
	g.Primary.Severity = goal.SeverityPrimary
	g.Fallbacks = append([]goal.ContingencyPlan(nil), req.Fallbacks...)

	if c.past != nil {
		if a, err := c.past.AnalyzeSimilar(ctx, g, c.cfg.Coordinator.LookbackDays); err == nil && a != nil {
			if a.SampleSize > 0 && a.SuccessRate < 0.5 {
				c.log.Info("low historical success, forcing conservative primary",
					zap.String("goal", g.Name),
					zap.Float64("success_rate", a.SuccessRate))
				if g.Primary.ActivationConditions == nil {
					g.Primary.ActivationConditions = map[string]any{}
				}
				g.Primary.ActivationConditions["strategy"] = "conservative"
				g.Primary.ActivationConditions["caution_level"] = "high"
				if g.Primary.RiskLabel == "" {
					g.Primary.RiskLabel = goal.RiskLow
				}
			}
		} else if err != nil {
			c.log.Warn("past analysis unavailable", zap.Error(err))
		}
	}

	g.EnsureFallbacks()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// currentState prefers a fresh snapshot from the environment bridge and
// degrades to the caller's snapshot.
func (c *Coordinator) currentState(ctx context.Context, fallback *goal.State) *goal.State {
	if c.env == nil {
		return fallback
	}
	fctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	state, err := c.env.FetchState(fctx)
	if err != nil || state == nil {
		c.log.Debug("environment state unavailable, using snapshot", zap.Error(err))
		return fallback
	}
	return state
}

// pushToEnvironment is fire-and-forget.
func (c *Coordinator) pushToEnvironment(ctx context.Context, g *goal.Goal) {
	if c.env == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.env.PushGoal(pctx, g); err != nil {
		c.log.Warn("environment sync failed, executing locally",
			zap.String("goal", g.Name), zap.Error(err))
	}
}

func (c *Coordinator) record(out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch out.Status {
	case contingency.StatusSuccess:
		c.stats.Completed++
	case contingency.StatusBlocked:
		c.stats.Blocked++
	case contingency.StatusEmergencyAbort:
		c.stats.Aborted++
	default:
		c.stats.Failed++
	}
	if out.Layer != "" {
		c.stats.LayerUse[out.Layer]++
	}
}

func (c *Coordinator) saveState() {
	if c.persist == nil {
		return
	}
	if err := c.persist.Save(c.arena.All()); err != nil {
		c.log.Error("state save failed", zap.Error(err))
	}
}

// GetStatistics returns a snapshot of coordinator activity.
func (c *Coordinator) GetStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Active = len(c.arena.Active())
	finished := stats.Completed + stats.Failed + stats.Aborted
	stats.TotalProcessed = finished + stats.Blocked
	if finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	stats.LayerUse = make(map[Tier]int, len(c.stats.LayerUse))
	for k, v := range c.stats.LayerUse {
		stats.LayerUse[k] = v
	}
	return stats
}
