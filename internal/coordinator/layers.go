package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goalforge/internal/contingency"
	"goalforge/internal/goal"
)

// layeredResult tags a contingency result with the tier that produced it.
type layeredResult struct {
	contingency.Result
	Layer Tier
}

// executeWithLayers dispatches through the provider tiers in strict order.
// Fast tiers (cached, rule-based, learned) get one direct attempt at their
// proposed plan and fall through on failure; the strategic tier's plan, and
// the goal's own chain when no provider answers, always run through the
// contingency manager and therefore always terminate the goal.
func (c *Coordinator) executeWithLayers(ctx context.Context, g *goal.Goal, state *goal.State) layeredResult {
	for _, tier := range TierOrder {
		p := c.providers[tier]
		if p == nil {
			continue
		}
		if tier == TierRuleBased && g.Priority != goal.PriorityCritical {
			continue
		}

		prop, err := c.propose(ctx, p, tier, g, state)
		if err != nil {
			c.log.Debug("tier fell through",
				zap.String("tier", string(tier)), zap.Error(err))
			continue
		}
		if prop == nil || prop.Plan == nil {
			continue
		}
		if tier == TierLearned && prop.Confidence <= c.cfg.Tiers.LearnedConfidenceMin {
			c.log.Debug("learned tier below confidence gate",
				zap.Float64("confidence", prop.Confidence))
			continue
		}

		if tier == TierStrategic {
			c.log.Info("dispatching via strategic tier", zap.String("goal", g.Name))
			plan := *prop.Plan
			plan.Severity = goal.SeverityPrimary
			g.Primary = plan
			res := c.manager.ExecuteWithContingency(ctx, g, state)
			return layeredResult{Result: res, Layer: tier}
		}

		if res, ok := c.tryDirect(ctx, g, state, tier, prop.Plan); ok {
			return layeredResult{Result: res, Layer: tier}
		}
	}

	// No fast tier succeeded and no strategic provider exists: the goal's
	// own chain is the plan of record.
	res := c.manager.ExecuteWithContingency(ctx, g, state)
	return layeredResult{Result: res, Layer: TierStrategic}
}

// propose calls one provider under its tier budget. A budget overrun comes
// back as ErrProviderTimeout.
func (c *Coordinator) propose(ctx context.Context, p PlanProvider, tier Tier, g *goal.Goal, state *goal.State) (*Proposal, error) {
	tctx, cancel := context.WithTimeout(ctx, c.tierBudget(tier))
	defer cancel()
	prop, err := p.Propose(tctx, g, state)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrProviderTimeout, tier)
		}
		return nil, err
	}
	if tctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s", ErrProviderTimeout, tier)
	}
	return prop, nil
}

// tryDirect gives a fast tier's plan one unretried shot. Success completes
// the goal; any failure leaves it running and falls through.
func (c *Coordinator) tryDirect(ctx context.Context, g *goal.Goal, state *goal.State, tier Tier, plan *goal.ContingencyPlan) (contingency.Result, bool) {
	start := time.Now()
	if g.Status == goal.StatusPending {
		if err := g.StartExecution(); err != nil {
			return contingency.Result{}, false
		}
	}

	pctx, cancel := context.WithTimeout(ctx, plan.Timeout())
	defer cancel()
	for _, action := range plan.Actions {
		if err := c.manager.ExecuteAction(pctx, action, state); err != nil {
			c.log.Debug("direct tier attempt failed",
				zap.String("tier", string(tier)),
				zap.String("action", action.Kind),
				zap.Error(err))
			return contingency.Result{}, false
		}
	}
	if len(g.SuccessConditions) > 0 && !state.Satisfies(g.SuccessConditions) {
		return contingency.Result{}, false
	}

	_ = g.CompleteSuccess()
	c.log.Info("goal succeeded via fast tier",
		zap.String("goal", g.Name), zap.String("tier", string(tier)))
	return contingency.Result{
		Status:   contingency.StatusSuccess,
		GoalID:   g.ID,
		PlanUsed: g.ActivePlan,
		Attempts: g.AttemptCount,
		Duration: time.Since(start),
	}, true
}

func (c *Coordinator) tierBudget(tier Tier) time.Duration {
	t := c.cfg.Tiers
	ms := 0
	switch tier {
	case TierCached:
		ms = t.CachedMillis
	case TierRuleBased:
		ms = t.RuleBasedMillis
	case TierLearned:
		ms = t.LearnedMillis
	case TierStrategic:
		ms = t.StrategicMillis
	}
	if ms <= 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}
