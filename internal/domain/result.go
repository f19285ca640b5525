package domain

import "time"

// PlatformOutput is one successfully produced image for one target platform.
type PlatformOutput struct {
	Platform   string        `json:"platform"`
	Provider   string        `json:"provider"`
	Tier       string        `json:"tier"`
	StorageKey string        `json:"storageKey"`
	Format     string        `json:"format"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Cost       float64       `json:"cost"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	// Degraded marks outputs produced by the zero-cost local path after the
	// provider fallback chain was exhausted.
	Degraded bool `json:"degraded,omitempty"`
}

// PlatformFailure describes a platform whose entire fallback chain, including
// the local degraded path, failed.
type PlatformFailure struct {
	Platform     string        `json:"platform"`
	LastProvider string        `json:"lastProvider"`
	Reason       string        `json:"reason"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
}

// JobResult is the terminal outcome of a job. Partial success is a valid
// terminal state: Success is true whenever at least one platform produced an
// output, with the rest listed under FailedPlatforms.
type JobResult struct {
	Success         bool              `json:"success"`
	Outputs         []PlatformOutput  `json:"outputs,omitempty"`
	FailedPlatforms []PlatformFailure `json:"failedPlatforms,omitempty"`
	ProviderUsed    string            `json:"providerUsed,omitempty"`
	Attempts        int               `json:"attempts"`
	TotalCost       float64           `json:"totalCost"`
	Degraded        bool              `json:"degraded,omitempty"`
	BudgetExceeded  bool              `json:"budgetExceeded,omitempty"`
	Error           string            `json:"error,omitempty"`
}
