// Package ledger accumulates actual spend and success counts per provider.
// Recording is append-only and never fails the job driving it: durable writes
// are best-effort and aggregate state is maintained with incremental
// formulas, no history replay.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omnishot/internal/domain"
)

// Flagged providers cost more than this multiple of the cheapest viable
// alternative.
const overpricedFactor = 2.0

// Providers need this many samples before Recommend considers them.
const minSamples = 3

type providerAgg struct {
	count       int64
	successes   int64
	totalCost   float64
	avgDuration time.Duration
}

type Ledger struct {
	mu          sync.Mutex
	providers   map[string]*providerAgg
	totalSpend  float64
	totalImages int64
	monthStart  time.Time
	monthSpend  float64

	repo   domain.UsageRepository
	logger zerolog.Logger
	now    func() time.Time
}

// Options configures a Ledger. Repo is optional; a nil repo keeps the ledger
// purely in-memory.
type Options struct {
	Repo   domain.UsageRepository
	Logger zerolog.Logger
	Now    func() time.Time
}

func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		providers: make(map[string]*providerAgg),
		repo:      opts.Repo,
		logger:    opts.Logger.With().Str("component", "ledger").Logger(),
		now:       opts.Now,
	}
	l.monthStart = monthOf(l.now())
	return l
}

// Load seeds the in-memory aggregates from the durable store, typically at
// process start. Aggregates remain usable if loading fails.
func (l *Ledger) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	now := l.now()
	stats, err := l.repo.Aggregate(ctx, monthOf(now), now)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range stats {
		l.providers[s.Provider] = &providerAgg{
			count:       s.Count,
			successes:   s.Successes,
			totalCost:   s.TotalCost,
			avgDuration: s.AverageDuration,
		}
		l.totalSpend += s.TotalCost
		l.totalImages += s.Count
		l.monthSpend += s.TotalCost
	}
	return nil
}

// Record appends one usage event. It never returns an error; durable append
// failures are logged and the in-memory aggregates still advance.
func (l *Ledger) Record(ctx context.Context, jobID, provider string, cost float64, duration time.Duration, success bool) {
	now := l.now()

	l.mu.Lock()
	agg, ok := l.providers[provider]
	if !ok {
		agg = &providerAgg{}
		l.providers[provider] = agg
	}
	agg.count++
	if success {
		agg.successes++
	}
	agg.totalCost += cost
	// Incremental mean, no history replay.
	agg.avgDuration += (duration - agg.avgDuration) / time.Duration(agg.count)

	l.totalSpend += cost
	l.totalImages++
	if m := monthOf(now); m.After(l.monthStart) {
		l.monthStart = m
		l.monthSpend = 0
	}
	l.monthSpend += cost
	l.mu.Unlock()

	if l.repo == nil {
		return
	}
	ev := domain.UsageEvent{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Provider:  provider,
		Cost:      cost,
		Duration:  duration,
		Success:   success,
		CreatedAt: now,
	}
	if err := l.repo.Append(ctx, ev); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Str("provider", provider).Msg("usage append failed")
	}
}

// MonthToDateSpend reports spend recorded in the current calendar month. The
// strategy selector uses it to compute the remaining budget.
func (l *Ledger) MonthToDateSpend() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if monthOf(l.now()).After(l.monthStart) {
		return 0
	}
	return l.monthSpend
}

// EfficiencyReport summarizes overall and per-provider spend.
func (l *Ledger) EfficiencyReport() domain.UsageReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := domain.UsageReport{
		From:        l.monthStart,
		To:          l.now(),
		TotalSpend:  l.totalSpend,
		TotalImages: l.totalImages,
	}
	if l.totalImages > 0 {
		report.AverageCostPerImage = l.totalSpend / float64(l.totalImages)
	}
	for name, agg := range l.providers {
		report.Providers = append(report.Providers, statsFrom(name, agg))
	}
	sort.Slice(report.Providers, func(i, j int) bool {
		return report.Providers[i].Provider < report.Providers[j].Provider
	})
	return report
}

// Recommend flags providers whose average cost per image exceeds a fixed
// multiple of the cheapest viable alternative. A provider is viable once it
// has enough samples, a majority success rate and a non-zero average cost;
// the free local path is not a pricing baseline.
func (l *Ledger) Recommend() []domain.Recommendation {
	l.mu.Lock()
	defer l.mu.Unlock()

	type priced struct {
		name string
		avg  float64
	}
	var viable []priced
	for name, agg := range l.providers {
		if agg.count < minSamples {
			continue
		}
		if float64(agg.successes)/float64(agg.count) < 0.5 {
			continue
		}
		avg := agg.totalCost / float64(agg.count)
		if avg <= 0 {
			continue
		}
		viable = append(viable, priced{name: name, avg: avg})
	}
	if len(viable) < 2 {
		return nil
	}

	cheapest := viable[0]
	for _, p := range viable[1:] {
		if p.avg < cheapest.avg {
			cheapest = p
		}
	}

	var out []domain.Recommendation
	for _, p := range viable {
		if p.name == cheapest.name {
			continue
		}
		if p.avg > cheapest.avg*overpricedFactor {
			out = append(out, domain.Recommendation{
				Provider:    p.name,
				AverageCost: p.avg,
				CheapestAlt: cheapest.name,
				AltCost:     cheapest.avg,
				Reason:      "average cost exceeds twice the cheapest viable alternative",
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Report aggregates the durable store over an arbitrary timeframe when a repo
// is configured, otherwise it falls back to the in-memory snapshot.
func (l *Ledger) Report(ctx context.Context, from, to time.Time) (domain.UsageReport, error) {
	if l.repo == nil {
		return l.EfficiencyReport(), nil
	}
	stats, err := l.repo.Aggregate(ctx, from, to)
	if err != nil {
		return domain.UsageReport{}, err
	}
	report := domain.UsageReport{From: from, To: to, Providers: stats}
	for _, s := range stats {
		report.TotalSpend += s.TotalCost
		report.TotalImages += s.Count
	}
	if report.TotalImages > 0 {
		report.AverageCostPerImage = report.TotalSpend / float64(report.TotalImages)
	}
	return report, nil
}

func statsFrom(name string, agg *providerAgg) domain.ProviderStats {
	s := domain.ProviderStats{
		Provider:        name,
		Count:           agg.count,
		Successes:       agg.successes,
		TotalCost:       agg.totalCost,
		AverageDuration: agg.avgDuration,
	}
	if agg.count > 0 {
		s.AverageCost = agg.totalCost / float64(agg.count)
		s.SuccessRate = float64(agg.successes) / float64(agg.count)
	}
	return s
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
