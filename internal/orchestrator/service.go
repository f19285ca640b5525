// Package orchestrator is the job-facing service: it validates submissions,
// selects a strategy, drives the fallback executor with progress reporting
// and records usage on terminal states. Recovery policy lives here and in the
// executor, not scattered across call sites.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
	"omnishot/internal/executor"
	"omnishot/internal/ledger"
	"omnishot/internal/progress"
	"omnishot/internal/strategy"
)

// JobSpec is what callers submit.
type JobSpec struct {
	OwnerID    string            `json:"ownerId"`
	Type       domain.JobType    `json:"type"`
	ImageKey   string            `json:"imageKey"`
	Style      string            `json:"style"`
	Platforms  []string          `json:"platforms"`
	BudgetTier domain.BudgetTier `json:"budgetTier"`
	Options    domain.JobOptions `json:"options"`
}

// Service orchestrates job processing end to end.
type Service struct {
	selector *strategy.Selector
	executor *executor.Executor
	tracker  *progress.Tracker
	ledger   *ledger.Ledger
	jobs     domain.JobRepository
	prep     domain.ImagePrep
	enqueue  bool
	logger   zerolog.Logger

	mu      sync.Mutex
	cancels map[string]*atomic.Bool
	wg      sync.WaitGroup
}

// Options wires the service. Jobs and Prep are optional. With Enqueue set,
// SubmitJob only persists the job and a separate worker claims and runs it;
// otherwise accepted jobs run in-process.
type Options struct {
	Selector *strategy.Selector
	Executor *executor.Executor
	Tracker  *progress.Tracker
	Ledger   *ledger.Ledger
	Jobs     domain.JobRepository
	Prep     domain.ImagePrep
	Enqueue  bool
	Logger   zerolog.Logger
}

func New(opts Options) *Service {
	return &Service{
		selector: opts.Selector,
		executor: opts.Executor,
		tracker:  opts.Tracker,
		ledger:   opts.Ledger,
		jobs:     opts.Jobs,
		prep:     opts.Prep,
		enqueue:  opts.Enqueue && opts.Jobs != nil,
		logger:   opts.Logger.With().Str("component", "orchestrator").Logger(),
		cancels:  make(map[string]*atomic.Bool),
	}
}

// SubmitJob validates the submission, accepts the job synchronously and processes
// it asynchronously. Malformed specs are rejected here and never enter the
// state machine.
func (s *Service) SubmitJob(ctx context.Context, spec JobSpec) (string, error) {
	if err := validate(spec); err != nil {
		return "", err
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		OwnerID:    spec.OwnerID,
		Type:       spec.Type,
		Status:     domain.JobStatusCreated,
		ImageKey:   spec.ImageKey,
		Style:      spec.Style,
		Platforms:  append([]string(nil), spec.Platforms...),
		BudgetTier: spec.BudgetTier,
		Options:    spec.Options,
		CreatedAt:  time.Now(),
	}

	if s.jobs != nil {
		if err := s.jobs.Create(ctx, job); err != nil {
			return "", fmt.Errorf("persist job: %w", err)
		}
	}

	if s.enqueue {
		// A worker process claims and runs the job. Seed writes only to the
		// shared stores: clients polling right after submission see a
		// record, and reads here keep following the worker's updates
		// instead of a pinned local copy.
		s.tracker.Seed(ctx, job.ID, job.OwnerID, job.Type)
		return job.ID, nil
	}

	canceled := &atomic.Bool{}
	s.mu.Lock()
	s.cancels[job.ID] = canceled
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The job must outlive the submission request.
		s.Run(context.Background(), job, canceled)
	}()
	return job.ID, nil
}

// Run drives one job to a terminal state. Exported for the worker, which
// claims persisted jobs instead of going through SubmitJob.
func (s *Service) Run(ctx context.Context, job *domain.Job, canceled *atomic.Bool) domain.JobResult {
	if canceled == nil {
		canceled = &atomic.Bool{}
		s.mu.Lock()
		s.cancels[job.ID] = canceled
		s.mu.Unlock()
	}
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
	}()

	s.tracker.Start(job.ID, job.OwnerID, job.Type)
	s.updateStatus(ctx, job, domain.JobStatusRunning, nil)
	s.mark(job, progress.StepUpload, 10)

	plan := s.selector.Select(job)
	s.mark(job, progress.StepValidation, 25)

	if s.prep != nil {
		if optimized, err := s.prep.Optimize(ctx, job.ImageKey); err == nil && optimized != "" {
			job.ImageKey = optimized
		}
	}
	s.mark(job, progress.StepPreprocessing, 35)

	for _, a := range plan.Assignments {
		s.tracker.SetPlatformProgress(job.ID, a.Platform, "pending", 0)
	}

	result := s.executor.Execute(ctx, plan, executor.JobContext{Job: job, Canceled: canceled})

	s.mark(job, progress.StepGeneration, 90)
	s.mark(job, progress.StepPostprocessing, 98)

	s.recordUsage(ctx, job.ID, result)

	if result.Success {
		s.mark(job, progress.StepDelivery, 100)
		s.tracker.Complete(job.ID, &result)
		s.updateStatus(ctx, job, domain.JobStatusSucceeded, nil)
	} else {
		err := fmt.Errorf("%w: %s", domain.ErrAllProvidersExhausted, result.Error)
		s.tracker.Fail(job.ID, progress.StepGeneration, err)
		msg := err.Error()
		s.updateStatus(ctx, job, domain.JobStatusFailed, &msg)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Bool("success", result.Success).
		Bool("degraded", result.Degraded).
		Int("attempts", result.Attempts).
		Float64("cost", result.TotalCost).
		Msg("job finished")
	return result
}

// GetProgress returns the current progress record for a job.
func (s *Service) GetProgress(ctx context.Context, jobID string) (domain.ProgressRecord, error) {
	return s.tracker.Get(ctx, jobID)
}

// Subscribe registers a callback invoked on every progress transition of one
// job, including jobs a worker process runs. The returned function removes
// the subscription.
func (s *Service) Subscribe(ctx context.Context, jobID string, fn func(domain.ProgressRecord)) (func(), error) {
	return s.tracker.Subscribe(ctx, jobID, progress.Subscriber(fn))
}

// Cancel requests best-effort cancellation. Jobs are not cancellable
// mid-flight: only future fallback attempts and future sequential platforms
// are skipped, never an in-flight provider call. Returns false when the job
// is unknown or already terminal.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.cancels[jobID]
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

// UsageReport aggregates spend over the timeframe.
func (s *Service) UsageReport(ctx context.Context, from, to time.Time) (domain.UsageReport, error) {
	return s.ledger.Report(ctx, from, to)
}

// Recommendations surfaces providers flagged by the ledger.
func (s *Service) Recommendations() []domain.Recommendation {
	return s.ledger.Recommend()
}

// Wait blocks until every in-flight job finished. Test and shutdown helper.
func (s *Service) Wait() {
	s.wg.Wait()
}

// mark advances a milestone. Job types with discrete steps complete the
// named step; quality-only jobs have none and use the explicit percentage
// override instead. Comparison jobs split generation across two stages.
func (s *Service) mark(job *domain.Job, step string, pct float64) {
	if job.Type == domain.JobTypeQualityOnly {
		s.tracker.SetPercentage(job.ID, pct)
		return
	}
	if job.Type == domain.JobTypeComparison && step == progress.StepGeneration {
		s.tracker.CompleteStep(job.ID, progress.StepGenerationA)
		s.tracker.CompleteStep(job.ID, progress.StepGenerationB)
		return
	}
	if job.Type == domain.JobTypeComparison && step == progress.StepPostprocessing {
		s.tracker.CompleteStep(job.ID, progress.StepScoring)
		return
	}
	s.tracker.CompleteStep(job.ID, step)
}

func (s *Service) recordUsage(ctx context.Context, jobID string, result domain.JobResult) {
	for _, out := range result.Outputs {
		s.ledger.Record(ctx, jobID, out.Provider, out.Cost, out.Duration, true)
	}
	for _, f := range result.FailedPlatforms {
		provider := f.LastProvider
		if provider == "" {
			provider = "unknown"
		}
		s.ledger.Record(ctx, jobID, provider, 0, f.Duration, false)
	}
}

func (s *Service) updateStatus(ctx context.Context, job *domain.Job, status domain.JobStatus, errMsg *string) {
	job.Status = status
	if s.jobs == nil {
		return
	}
	if err := s.jobs.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job status update failed")
	}
}

func validate(spec JobSpec) error {
	if strings.TrimSpace(spec.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if !domain.KnownJobType(spec.Type) {
		return fmt.Errorf("%w: unknown job type %q", domain.ErrValidation, spec.Type)
	}
	if strings.TrimSpace(spec.ImageKey) == "" {
		return fmt.Errorf("%w: image key is required", domain.ErrValidation)
	}
	if len(spec.Platforms) == 0 {
		return fmt.Errorf("%w: at least one target platform is required", domain.ErrValidation)
	}
	if !domain.KnownBudgetTier(spec.BudgetTier) {
		return fmt.Errorf("%w: unknown budget tier %q", domain.ErrValidation, spec.BudgetTier)
	}
	if spec.Options.Strategy != "" && !domain.KnownStrategy(spec.Options.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrValidation, spec.Options.Strategy)
	}
	b, _ := costmodel.BudgetFor(spec.BudgetTier)
	if len(spec.Platforms) > b.ImagesPerJob {
		return fmt.Errorf("%w: %d platforms exceeds the %s tier limit of %d images per job",
			domain.ErrQuotaExceeded, len(spec.Platforms), spec.BudgetTier, b.ImagesPerJob)
	}
	return nil
}
