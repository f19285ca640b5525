// Package strategy computes execution plans. For each candidate strategy it
// prices every target platform through the cost model, scores the strategies
// with the weights of the chosen optimization goal and returns the best plan
// that fits the remaining monthly budget.
package strategy

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
)

// Goal names the optimization presets. Each preset is a fixed
// cost/quality/speed weight triple.
type Goal string

const (
	GoalPremiumQuality  Goal = "premium-quality"
	GoalBalanced        Goal = "balanced"
	GoalCostOptimized   Goal = "cost-optimized"
	GoalSpeedOptimized  Goal = "speed-optimized"
	GoalBudgetConscious Goal = "budget-conscious"
)

type weights struct {
	cost    float64
	quality float64
	speed   float64
}

var goalWeights = map[Goal]weights{
	GoalPremiumQuality:  {cost: 0.10, quality: 0.70, speed: 0.20},
	GoalBalanced:        {cost: 0.33, quality: 0.34, speed: 0.33},
	GoalCostOptimized:   {cost: 0.60, quality: 0.25, speed: 0.15},
	GoalSpeedOptimized:  {cost: 0.20, quality: 0.20, speed: 0.60},
	GoalBudgetConscious: {cost: 0.70, quality: 0.20, speed: 0.10},
}

// Strategies above this share of the remaining monthly budget are filtered
// before scoring.
const budgetShare = 0.5

// Quality floor for cost-optimized picks, raised when the caller asks for
// face-critical preservation.
const (
	minQualityFloor      = 0.60
	faceCriticalFloor    = 0.75
	hybridImportanceBar  = 0.80
	sequentialInterDelay = 2 * time.Second
)

// SpendReader exposes the ledger's month-to-date spend so the selector can
// compute the remaining budget without depending on the ledger package.
type SpendReader interface {
	MonthToDateSpend() float64
}

type Selector struct {
	spend  SpendReader
	logger zerolog.Logger
}

func NewSelector(spend SpendReader, logger zerolog.Logger) *Selector {
	return &Selector{spend: spend, logger: logger.With().Str("component", "strategy").Logger()}
}

// Select computes the execution plan for a job. It never returns an error:
// unknown platforms or styles fall back to default weights with a logged
// warning, and an over-budget selection degrades to the cheapest plan with
// BudgetExceeded set.
func (s *Selector) Select(job *domain.Job) domain.ExecutionPlan {
	opts := job.Options
	complexity, ok := costmodel.StyleComplexity(job.Style)
	if !ok {
		complexity = costmodel.DefaultWeight
		s.logger.Warn().Str("style", job.Style).Msg("unknown style, using default complexity")
	}

	goal := s.resolveGoal(opts)
	allowed := costmodel.CandidatesFor(job.BudgetTier)

	names := []domain.StrategyName{
		domain.StrategyPremiumParallel,
		domain.StrategyBalancedParallel,
		domain.StrategySequentialOptimized,
	}
	// Hybrid only pays off when platform importance varies.
	if len(job.Platforms) > 1 {
		names = append(names, domain.StrategyHybrid)
	}
	if opts.Strategy != "" {
		names = []domain.StrategyName{opts.Strategy}
	}

	plans := make([]domain.ExecutionPlan, 0, len(names))
	for _, name := range names {
		plans = append(plans, s.buildPlan(name, job, allowed, complexity, opts))
	}

	remaining := s.remainingBudget(job.BudgetTier)
	affordable := plans[:0:0]
	for _, p := range plans {
		if p.TotalPredictedCost <= remaining*budgetShare {
			affordable = append(affordable, p)
		}
	}

	if len(affordable) == 0 {
		// Nothing fits: run the cheapest plan anyway and tell the caller.
		cheapest := cheapestPlan(plans)
		cheapest.BudgetExceeded = true
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("strategy", string(cheapest.Strategy)).
			Float64("cost", cheapest.TotalPredictedCost).
			Float64("remaining_budget", remaining).
			Msg("no strategy within budget, degrading to cheapest")
		return cheapest
	}

	best := scorePlans(affordable, goalWeights[goal])
	s.logger.Debug().
		Str("job_id", job.ID).
		Str("strategy", string(best.Strategy)).
		Str("goal", string(goal)).
		Float64("cost", best.TotalPredictedCost).
		Msg("strategy selected")
	return best
}

func (s *Selector) resolveGoal(opts domain.JobOptions) Goal {
	if opts.Premium {
		return GoalPremiumQuality
	}
	if opts.Fast {
		return GoalSpeedOptimized
	}
	if g := Goal(opts.Goal); g != "" {
		if _, ok := goalWeights[g]; ok {
			return g
		}
		s.logger.Warn().Str("goal", opts.Goal).Msg("unknown optimization goal, using balanced")
	}
	return GoalBalanced
}

func (s *Selector) remainingBudget(tier domain.BudgetTier) float64 {
	b, ok := costmodel.BudgetFor(tier)
	if !ok {
		return 0
	}
	spent := 0.0
	if s.spend != nil {
		spent = s.spend.MonthToDateSpend()
	}
	remaining := b.MonthlyLimit - spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Selector) buildPlan(name domain.StrategyName, job *domain.Job, allowed []costmodel.Candidate, complexity float64, opts domain.JobOptions) domain.ExecutionPlan {
	plan := domain.ExecutionPlan{Strategy: name, Mode: domain.ModeParallel}
	if name == domain.StrategySequentialOptimized {
		plan.Mode = domain.ModeSequential
		plan.InterJobDelay = sequentialInterDelay
	}

	floor := minQualityFloor
	if opts.PreserveFace {
		floor = faceCriticalFloor
	}

	var qualitySum float64
	for _, platformID := range job.Platforms {
		p, ok := costmodel.PlatformInfo(platformID)
		if !ok {
			p = costmodel.Platform{ID: platformID, Importance: costmodel.DefaultWeight, QualityRequirement: costmodel.DefaultWeight}
			s.logger.Warn().Str("platform", platformID).Msg("unknown platform, using default importance")
		}

		var cand costmodel.Candidate
		switch name {
		case domain.StrategyPremiumParallel:
			cand = pickHighestQuality(allowed)
		case domain.StrategyBalancedParallel:
			cand = pickBalanced(allowed, p.QualityRequirement)
		case domain.StrategySequentialOptimized:
			cand = pickCheapest(allowed, floor)
		case domain.StrategyHybrid:
			if p.Importance >= hybridImportanceBar {
				cand = pickHighestQuality(allowed)
			} else {
				cand = pickCheapest(allowed, floor)
			}
		default:
			cand = pickBalanced(allowed, p.QualityRequirement)
		}

		// Complex styles take providers longer to converge on.
		duration := time.Duration(float64(cand.ExpectedDuration) * (0.5 + complexity/2))
		a := domain.PlatformAssignment{
			Platform:          platformID,
			Provider:          cand.Provider,
			Tier:              cand.Tier,
			PredictedCost:     cand.CostPerImage,
			PredictedQuality:  cand.QualityScore,
			PredictedDuration: duration,
		}
		plan.Assignments = append(plan.Assignments, a)
		plan.TotalPredictedCost += a.PredictedCost
		qualitySum += a.PredictedQuality
		if plan.Mode == domain.ModeSequential {
			plan.PredictedDuration += a.PredictedDuration
		} else if a.PredictedDuration > plan.PredictedDuration {
			plan.PredictedDuration = a.PredictedDuration
		}
	}
	if n := len(plan.Assignments); n > 0 {
		plan.AvgPredictedQuality = qualitySum / float64(n)
	}
	return plan
}

func pickHighestQuality(cands []costmodel.Candidate) costmodel.Candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.QualityScore > best.QualityScore {
			best = c
		}
	}
	return best
}

// pickCheapest returns the cheapest candidate whose quality meets the floor,
// or the cheapest overall when none does.
func pickCheapest(cands []costmodel.Candidate, floor float64) costmodel.Candidate {
	var best *costmodel.Candidate
	for i := range cands {
		c := cands[i]
		if c.QualityScore < floor {
			continue
		}
		if best == nil || c.CostPerImage < best.CostPerImage {
			best = &cands[i]
		}
	}
	if best != nil {
		return *best
	}
	cheapest := cands[0]
	for _, c := range cands[1:] {
		if c.CostPerImage < cheapest.CostPerImage {
			cheapest = c
		}
	}
	return cheapest
}

// pickBalanced prefers the cheapest candidate meeting the platform's quality
// requirement, falling back to the highest quality available.
func pickBalanced(cands []costmodel.Candidate, requirement float64) costmodel.Candidate {
	var best *costmodel.Candidate
	for i := range cands {
		c := cands[i]
		if c.QualityScore < requirement {
			continue
		}
		if best == nil || c.CostPerImage < best.CostPerImage {
			best = &cands[i]
		}
	}
	if best != nil {
		return *best
	}
	return pickHighestQuality(cands)
}

func cheapestPlan(plans []domain.ExecutionPlan) domain.ExecutionPlan {
	best := plans[0]
	for _, p := range plans[1:] {
		if p.TotalPredictedCost < best.TotalPredictedCost ||
			(p.TotalPredictedCost == best.TotalPredictedCost && p.PredictedDuration < best.PredictedDuration) {
			best = p
		}
	}
	return best
}

// scorePlans applies the weighted score across the surviving strategies. Ties
// break toward lower cost, then lower duration.
func scorePlans(plans []domain.ExecutionPlan, w weights) domain.ExecutionPlan {
	var maxCost, maxDuration float64
	for _, p := range plans {
		if p.TotalPredictedCost > maxCost {
			maxCost = p.TotalPredictedCost
		}
		if d := float64(p.PredictedDuration); d > maxDuration {
			maxDuration = d
		}
	}

	type scored struct {
		plan  domain.ExecutionPlan
		score float64
	}
	out := make([]scored, 0, len(plans))
	for _, p := range plans {
		costSaving := 1.0
		if maxCost > 0 {
			costSaving = 1 - p.TotalPredictedCost/maxCost
		}
		speed := 1.0
		if maxDuration > 0 {
			speed = 1 - float64(p.PredictedDuration)/maxDuration
		}
		score := w.cost*costSaving + w.quality*p.AvgPredictedQuality + w.speed*speed
		out = append(out, scored{plan: p, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].plan.TotalPredictedCost != out[j].plan.TotalPredictedCost {
			return out[i].plan.TotalPredictedCost < out[j].plan.TotalPredictedCost
		}
		return out[i].plan.PredictedDuration < out[j].plan.PredictedDuration
	})
	return out[0].plan
}
