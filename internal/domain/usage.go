package domain

import "time"

// UsageEvent is one append-only ledger entry recorded after a provider call
// reached a terminal outcome for a platform.
type UsageEvent struct {
	ID        string
	JobID     string
	Provider  string
	Cost      float64
	Duration  time.Duration
	Success   bool
	CreatedAt time.Time
}

// ProviderStats is the running aggregate the ledger maintains per provider.
type ProviderStats struct {
	Provider        string        `json:"provider"`
	Count           int64         `json:"count"`
	Successes       int64         `json:"successes"`
	TotalCost       float64       `json:"totalCost"`
	AverageCost     float64       `json:"averageCost"`
	AverageDuration time.Duration `json:"averageDuration"`
	SuccessRate     float64       `json:"successRate"`
}

// UsageReport summarizes spend over a timeframe for reporting and strategy
// tuning.
type UsageReport struct {
	From                time.Time       `json:"from"`
	To                  time.Time       `json:"to"`
	TotalSpend          float64         `json:"totalSpend"`
	TotalImages         int64           `json:"totalImages"`
	AverageCostPerImage float64         `json:"averageCostPerImage"`
	Providers           []ProviderStats `json:"providers"`
}

// Recommendation flags a provider whose observed average cost is out of line
// with the cheapest viable alternative.
type Recommendation struct {
	Provider    string  `json:"provider"`
	AverageCost float64 `json:"averageCost"`
	CheapestAlt string  `json:"cheapestAlt"`
	AltCost     float64 `json:"altCost"`
	Reason      string  `json:"reason"`
}
