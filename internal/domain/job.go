package domain

import "time"

// JobType enumerates supported photo transformation job categories.
type JobType string

const (
	JobTypeSingle      JobType = "single"
	JobTypeBatch       JobType = "batch"
	JobTypeComparison  JobType = "comparison"
	JobTypeQualityOnly JobType = "quality_only"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// BudgetTier enumerates subscription levels that constrain provider choice
// and spend for a job.
type BudgetTier string

const (
	BudgetTierFree         BudgetTier = "free"
	BudgetTierStarter      BudgetTier = "starter"
	BudgetTierProfessional BudgetTier = "professional"
	BudgetTierEnterprise   BudgetTier = "enterprise"
)

// JobOptions carries optional caller preferences that influence strategy
// selection.
type JobOptions struct {
	Strategy     StrategyName
	Goal         string
	Fast         bool
	Premium      bool
	PreserveFace bool
}

// Job encapsulates a unit of photo transformation work. The orchestrator owns
// the job for its lifetime; callers only observe it through the progress
// record and the final result.
type Job struct {
	ID           string
	OwnerID      string
	Type         JobType
	Status       JobStatus
	ImageKey     string
	Style        string
	Platforms    []string
	BudgetTier   BudgetTier
	Options      JobOptions
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// KnownJobType reports whether t is one of the supported job categories.
func KnownJobType(t JobType) bool {
	switch t {
	case JobTypeSingle, JobTypeBatch, JobTypeComparison, JobTypeQualityOnly:
		return true
	}
	return false
}

// KnownBudgetTier reports whether t is a recognized subscription level.
func KnownBudgetTier(t BudgetTier) bool {
	switch t {
	case BudgetTierFree, BudgetTierStarter, BudgetTierProfessional, BudgetTierEnterprise:
		return true
	}
	return false
}
