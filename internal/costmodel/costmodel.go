// Package costmodel holds the static tables the strategy selector and the
// fallback executor consult: provider/tier candidates with declared cost,
// quality and duration, per-platform importance weights, per-style complexity
// weights and budget tier limits. All tables are read-only and safely shared
// across jobs.
package costmodel

import (
	"time"

	"omnishot/internal/domain"
)

// Provider names form a closed set; the fallback chain is enumerable at
// compile time through the executor's registry.
const (
	ProviderGemini    = "gemini"
	ProviderReplicate = "replicate"
	ProviderStability = "stability"
	ProviderLocal     = "local"
)

// Tier names within a provider.
const (
	TierFast     = "fast"
	TierStandard = "standard"
	TierPremium  = "premium"
	TierBasic    = "basic"
)

// DefaultWeight substitutes for unknown platform importance or style
// complexity. Lookups never fail; callers log a recoverable warning instead.
const DefaultWeight = 0.75

// Candidate is one (provider, tier) pairing with its declared economics.
type Candidate struct {
	Provider         string
	Tier             string
	CostPerImage     float64
	QualityScore     float64
	ExpectedDuration time.Duration
}

var candidates = []Candidate{
	{ProviderLocal, TierBasic, 0, 0.55, 2 * time.Second},
	{ProviderGemini, TierFast, 0.02, 0.70, 6 * time.Second},
	{ProviderGemini, TierStandard, 0.04, 0.80, 10 * time.Second},
	{ProviderGemini, TierPremium, 0.08, 0.88, 18 * time.Second},
	{ProviderReplicate, TierFast, 0.025, 0.72, 8 * time.Second},
	{ProviderReplicate, TierStandard, 0.055, 0.82, 14 * time.Second},
	{ProviderReplicate, TierPremium, 0.12, 0.92, 30 * time.Second},
	{ProviderStability, TierStandard, 0.05, 0.78, 12 * time.Second},
	{ProviderStability, TierPremium, 0.10, 0.90, 25 * time.Second},
}

// Candidates returns every known provider/tier pairing.
func Candidates() []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out
}

// Lookup resolves a single provider/tier pairing.
func Lookup(provider, tier string) (Candidate, bool) {
	for _, c := range candidates {
		if c.Provider == provider && c.Tier == tier {
			return c, true
		}
	}
	return Candidate{}, false
}

// CandidatesFor returns the pairings a budget tier may use, capped at the
// tier's quality ceiling. The zero-cost local pairing is always included so a
// degraded path exists for every tier.
func CandidatesFor(tier domain.BudgetTier) []Candidate {
	b, ok := BudgetFor(tier)
	if !ok {
		b = budgets[domain.BudgetTierFree]
	}
	var out []Candidate
	for _, c := range candidates {
		if !b.allows(c.Provider) {
			continue
		}
		if c.QualityScore > b.MaxQuality && c.Provider != ProviderLocal {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Budget describes the limits of one subscription level.
type Budget struct {
	Tier             domain.BudgetTier
	MonthlyLimit     float64
	ImagesPerJob     int
	MaxQuality       float64
	AllowedProviders []string
}

func (b Budget) allows(provider string) bool {
	for _, p := range b.AllowedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

var budgets = map[domain.BudgetTier]Budget{
	domain.BudgetTierFree: {
		Tier:             domain.BudgetTierFree,
		MonthlyLimit:     0,
		ImagesPerJob:     3,
		MaxQuality:       0.60,
		AllowedProviders: []string{ProviderLocal},
	},
	domain.BudgetTierStarter: {
		Tier:             domain.BudgetTierStarter,
		MonthlyLimit:     9.99,
		ImagesPerJob:     10,
		MaxQuality:       0.80,
		AllowedProviders: []string{ProviderLocal, ProviderGemini},
	},
	domain.BudgetTierProfessional: {
		Tier:             domain.BudgetTierProfessional,
		MonthlyLimit:     29.99,
		ImagesPerJob:     25,
		MaxQuality:       0.92,
		AllowedProviders: []string{ProviderLocal, ProviderGemini, ProviderReplicate, ProviderStability},
	},
	domain.BudgetTierEnterprise: {
		Tier:             domain.BudgetTierEnterprise,
		MonthlyLimit:     99.99,
		ImagesPerJob:     100,
		MaxQuality:       1.0,
		AllowedProviders: []string{ProviderLocal, ProviderGemini, ProviderReplicate, ProviderStability},
	},
}

// BudgetFor resolves the limits for a subscription level.
func BudgetFor(tier domain.BudgetTier) (Budget, bool) {
	b, ok := budgets[tier]
	return b, ok
}

// Platform carries the targeting weights for one output platform.
type Platform struct {
	ID                 string
	Importance         float64
	QualityRequirement float64
}

var platforms = map[string]Platform{
	"linkedin":          {"linkedin", 1.0, 0.90},
	"instagram":         {"instagram", 0.85, 0.80},
	"facebook":          {"facebook", 0.70, 0.70},
	"twitter":           {"twitter", 0.65, 0.65},
	"youtube":           {"youtube", 0.75, 0.75},
	"tiktok":            {"tiktok", 0.60, 0.60},
	"github":            {"github", 0.50, 0.60},
	"whatsapp_business": {"whatsapp_business", 0.55, 0.60},
}

// PlatformInfo resolves targeting weights for a platform id. ok is false for
// unknown platforms; callers substitute DefaultWeight and keep going.
func PlatformInfo(id string) (Platform, bool) {
	p, ok := platforms[id]
	return p, ok
}

var styles = map[string]float64{
	"executive":       0.90,
	"corporate":       0.85,
	"creative":        0.80,
	"business_casual": 0.70,
	"outdoor":         0.65,
	"casual":          0.60,
}

// StyleComplexity resolves the complexity weight of a style id.
func StyleComplexity(style string) (float64, bool) {
	c, ok := styles[style]
	return c, ok
}
