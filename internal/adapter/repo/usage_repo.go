package repo

import (
	"context"
	"time"

	"omnishot/internal/domain"
	"omnishot/internal/infra"
	"omnishot/internal/sqlinline"
)

// UsageRepositoryPG appends ledger events and aggregates them per provider.
type UsageRepositoryPG struct {
	db infra.SQLExecutor
}

func NewUsageRepository(db infra.SQLExecutor) *UsageRepositoryPG {
	return &UsageRepositoryPG{db: db}
}

func (r *UsageRepositoryPG) Append(ctx context.Context, ev domain.UsageEvent) error {
	_, err := r.db.Exec(ctx, sqlinline.QInsertUsageEvent,
		ev.ID,
		ev.JobID,
		ev.Provider,
		ev.Cost,
		ev.Duration.Milliseconds(),
		ev.Success,
		ev.CreatedAt,
	)
	return err
}

func (r *UsageRepositoryPG) Aggregate(ctx context.Context, from, to time.Time) ([]domain.ProviderStats, error) {
	rows, err := r.db.Query(ctx, sqlinline.QAggregateUsage, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.ProviderStats
	for rows.Next() {
		var (
			s     domain.ProviderStats
			avgMs float64
		)
		if err := rows.Scan(&s.Provider, &s.Count, &s.Successes, &s.TotalCost, &avgMs); err != nil {
			return nil, err
		}
		s.AverageDuration = time.Duration(avgMs * float64(time.Millisecond))
		if s.Count > 0 {
			s.AverageCost = s.TotalCost / float64(s.Count)
			s.SuccessRate = float64(s.Successes) / float64(s.Count)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
