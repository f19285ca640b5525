package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"omnishot/internal/domain"
	"omnishot/internal/infra"
	"omnishot/internal/sqlinline"
)

// ProgressRepositoryPG is the durable half of the progress store. The whole
// record travels as one jsonb column; status and percentage are lifted into
// their own columns for eviction and ad-hoc queries.
type ProgressRepositoryPG struct {
	db infra.SQLExecutor
}

func NewProgressRepository(db infra.SQLExecutor) *ProgressRepositoryPG {
	return &ProgressRepositoryPG{db: db}
}

func (r *ProgressRepositoryPG) Save(ctx context.Context, rec *domain.ProgressRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress record: %w", err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QUpsertProgress,
		rec.JobID,
		rec.OwnerID,
		string(rec.Status),
		rec.Percentage,
		raw,
	)
	return err
}

func (r *ProgressRepositoryPG) Get(ctx context.Context, jobID string) (*domain.ProgressRecord, error) {
	var raw []byte
	if err := r.db.QueryRow(ctx, sqlinline.QSelectProgress, jobID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var rec domain.ProgressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}
	return &rec, nil
}

func (r *ProgressRepositoryPG) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteCompletedProgressBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
