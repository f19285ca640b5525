package strategy

import (
	"testing"

	"github.com/rs/zerolog"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
)

type fixedSpend float64

func (f fixedSpend) MonthToDateSpend() float64 { return float64(f) }

func newJob(tier domain.BudgetTier, style string, platforms ...string) *domain.Job {
	return &domain.Job{
		ID:         "job-1",
		OwnerID:    "owner-1",
		Type:       domain.JobTypeSingle,
		Style:      style,
		Platforms:  platforms,
		BudgetTier: tier,
	}
}

func TestSelectFreeTierUsesZeroCostLocal(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	plan := s.Select(newJob(domain.BudgetTierFree, "executive", "linkedin"))

	if plan.TotalPredictedCost != 0 {
		t.Fatalf("TotalPredictedCost = %v, want 0", plan.TotalPredictedCost)
	}
	if len(plan.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(plan.Assignments))
	}
	if plan.Assignments[0].Provider != costmodel.ProviderLocal {
		t.Fatalf("provider = %q, want local", plan.Assignments[0].Provider)
	}
	if plan.BudgetExceeded {
		t.Fatal("free tier zero-cost plan should not be flagged over budget")
	}
}

func TestSelectNeverExceedsBudgetShare(t *testing.T) {
	tiers := []domain.BudgetTier{
		domain.BudgetTierFree,
		domain.BudgetTierStarter,
		domain.BudgetTierProfessional,
		domain.BudgetTierEnterprise,
	}
	platformSets := [][]string{
		{"linkedin"},
		{"linkedin", "instagram"},
		{"linkedin", "instagram", "facebook", "twitter", "tiktok"},
	}
	for _, tier := range tiers {
		b, _ := costmodel.BudgetFor(tier)
		for _, platforms := range platformSets {
			s := NewSelector(fixedSpend(0), zerolog.Nop())
			plan := s.Select(newJob(tier, "corporate", platforms...))
			if plan.BudgetExceeded {
				continue // explicit degradation path, cheapest plan by construction
			}
			if plan.TotalPredictedCost > b.MonthlyLimit*budgetShare {
				t.Fatalf("tier %s platforms %v: cost %v exceeds %v",
					tier, platforms, plan.TotalPredictedCost, b.MonthlyLimit*budgetShare)
			}
		}
	}
}

func TestSelectExhaustedBudgetDegradesToCheapest(t *testing.T) {
	// Month-to-date spend eats the whole starter budget; every paid plan is
	// filtered and the selector must degrade explicitly.
	s := NewSelector(fixedSpend(1000), zerolog.Nop())
	job := newJob(domain.BudgetTierStarter, "executive", "linkedin", "instagram")
	job.Options.Premium = true
	plan := s.Select(job)

	if !plan.BudgetExceeded && plan.TotalPredictedCost > 0 {
		t.Fatalf("plan cost %v with exhausted budget and no BudgetExceeded flag", plan.TotalPredictedCost)
	}
	// The cheapest combination for starter is the local provider throughout.
	for _, a := range plan.Assignments {
		if a.PredictedCost > 0 && !plan.BudgetExceeded {
			t.Fatalf("assignment %+v costs money without the exceeded flag", a)
		}
	}
}

func TestSelectSinglePlatformSkipsHybrid(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	for _, goal := range []Goal{GoalPremiumQuality, GoalBalanced, GoalCostOptimized, GoalSpeedOptimized, GoalBudgetConscious} {
		job := newJob(domain.BudgetTierEnterprise, "executive", "linkedin")
		job.Options.Goal = string(goal)
		plan := s.Select(job)
		if plan.Strategy == domain.StrategyHybrid {
			t.Fatalf("goal %s picked hybrid for a single platform", goal)
		}
	}
}

func TestSelectExplicitStrategyOverride(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	job := newJob(domain.BudgetTierProfessional, "creative", "linkedin", "instagram")
	job.Options.Strategy = domain.StrategySequentialOptimized
	plan := s.Select(job)

	if plan.Strategy != domain.StrategySequentialOptimized {
		t.Fatalf("strategy = %s, want sequential-optimized", plan.Strategy)
	}
	if plan.Mode != domain.ModeSequential {
		t.Fatalf("mode = %s, want sequential", plan.Mode)
	}
	if plan.InterJobDelay <= 0 {
		t.Fatal("sequential plan must carry a non-zero inter-job delay")
	}
}

func TestSelectParallelModeHasNoInterJobDelay(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	job := newJob(domain.BudgetTierEnterprise, "executive", "linkedin", "instagram")
	job.Options.Premium = true
	plan := s.Select(job)
	if plan.Mode == domain.ModeParallel && plan.InterJobDelay != 0 {
		t.Fatalf("parallel plan carries inter-job delay %v", plan.InterJobDelay)
	}
}

func TestSelectUnknownPlatformAndStyleUseDefaults(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	plan := s.Select(newJob(domain.BudgetTierProfessional, "brutalist", "friendster"))

	if len(plan.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(plan.Assignments))
	}
	if plan.Assignments[0].Platform != "friendster" {
		t.Fatalf("platform = %q", plan.Assignments[0].Platform)
	}
	if plan.Assignments[0].PredictedDuration <= 0 {
		t.Fatal("default complexity must still produce a positive duration")
	}
}

func TestSelectPreserveFaceRaisesQualityFloor(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	job := newJob(domain.BudgetTierProfessional, "executive", "tiktok")
	job.Options.Strategy = domain.StrategySequentialOptimized
	job.Options.PreserveFace = true
	plan := s.Select(job)

	if q := plan.Assignments[0].PredictedQuality; q < faceCriticalFloor {
		t.Fatalf("face-critical pick quality %v below floor %v", q, faceCriticalFloor)
	}
}

func TestSelectPremiumGoalPrefersQuality(t *testing.T) {
	s := NewSelector(fixedSpend(0), zerolog.Nop())
	premium := newJob(domain.BudgetTierEnterprise, "executive", "linkedin")
	premium.Options.Goal = string(GoalPremiumQuality)
	cheap := newJob(domain.BudgetTierEnterprise, "executive", "linkedin")
	cheap.Options.Goal = string(GoalBudgetConscious)

	pq := s.Select(premium).AvgPredictedQuality
	cq := s.Select(cheap).AvgPredictedQuality
	if pq < cq {
		t.Fatalf("premium goal quality %v below budget-conscious quality %v", pq, cq)
	}
}
