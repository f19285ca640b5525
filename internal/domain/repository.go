package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg *string) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ClaimNext atomically picks the oldest created job and marks it running.
	// Returns ErrNotFound when no job is available.
	ClaimNext(ctx context.Context) (*Job, error)
}

// ProgressRepository is the durable store for progress records. Records are
// kept for a bounded TTL after completion and then evicted.
type ProgressRepository interface {
	Save(ctx context.Context, rec *ProgressRecord) error
	Get(ctx context.Context, jobID string) (*ProgressRecord, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UsageRepository appends ledger entries and aggregates them for reports.
type UsageRepository interface {
	Append(ctx context.Context, ev UsageEvent) error
	Aggregate(ctx context.Context, from, to time.Time) ([]ProviderStats, error)
}
