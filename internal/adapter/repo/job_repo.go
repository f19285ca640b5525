package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"omnishot/internal/domain"
	"omnishot/internal/infra"
	"omnishot/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Job options
// are stored as jsonb so new preference fields never need a migration.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		string(job.Type),
		string(job.Status),
		job.ImageKey,
		job.Style,
		job.Platforms,
		string(job.BudgetTier),
		opts,
	)
	return err
}

func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	_, err := r.db.Exec(ctx, sqlinline.QUpdateJobStatus, jobID, string(status), errMsg)
	return err
}

func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QSelectJobByID, jobID)
	return scanJob(row)
}

// ClaimNext picks the oldest created job and flips it to running in one
// statement, so concurrent workers never claim the same job.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, sqlinline.QClaimNextJob)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job      domain.Job
		jobType  string
		status   string
		tier     string
		optsJSON []byte
		errMsg   *string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&jobType,
		&status,
		&job.ImageKey,
		&job.Style,
		&job.Platforms,
		&tier,
		&optsJSON,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.BudgetTier = domain.BudgetTier(tier)
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &job.Options); err != nil {
			return nil, fmt.Errorf("decode job options: %w", err)
		}
	}
	return &job, nil
}
