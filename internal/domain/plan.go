package domain

import "time"

// StrategyName enumerates the execution strategies the selector can choose.
type StrategyName string

const (
	StrategyPremiumParallel     StrategyName = "premium-parallel"
	StrategyBalancedParallel    StrategyName = "balanced-parallel"
	StrategySequentialOptimized StrategyName = "sequential-optimized"
	StrategyHybrid              StrategyName = "hybrid"
)

// KnownStrategy reports whether s is a selectable execution strategy.
func KnownStrategy(s StrategyName) bool {
	switch s {
	case StrategyPremiumParallel, StrategyBalancedParallel, StrategySequentialOptimized, StrategyHybrid:
		return true
	}
	return false
}

// ExecutionMode controls whether per-platform sub-jobs run concurrently or
// one after another.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// PlatformAssignment binds one target platform to a provider/tier choice with
// the cost model's predictions for that pairing.
type PlatformAssignment struct {
	Platform          string
	Provider          string
	Tier              string
	PredictedCost     float64
	PredictedQuality  float64
	PredictedDuration time.Duration
}

// ExecutionPlan is the resolved provider/tier assignment for a job. It is
// derived per job and never outlives it.
type ExecutionPlan struct {
	Strategy            StrategyName
	Assignments         []PlatformAssignment
	TotalPredictedCost  float64
	AvgPredictedQuality float64
	PredictedDuration   time.Duration
	Mode                ExecutionMode
	InterJobDelay       time.Duration
	// BudgetExceeded marks plans where no provider combination fit the
	// remaining budget and the cheapest combination was used anyway. It is
	// surfaced to the caller as metadata, never as an error.
	BudgetExceeded bool
}
