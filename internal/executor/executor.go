// Package executor runs execution plans against the provider adapters with
// layered fallback: the plan's primary assignment first, then the remaining
// allowed providers by descending predicted quality, then the zero-cost local
// path. Provider-level failures are absorbed here; only a fully exhausted
// chain surfaces as a platform failure.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
	"omnishot/internal/providers/image"
)

const (
	// DefaultMaxConcurrency bounds parallel-mode sub-jobs to respect
	// external provider rate limits.
	DefaultMaxConcurrency = 3
	// interAttemptDelay is the fixed wait between fallback attempts.
	interAttemptDelay = 2 * time.Second
	// timeoutFactor scales a candidate's expected duration into its
	// per-call timeout.
	timeoutFactor = 1.5
	// providerRPS throttles calls per provider across all jobs.
	providerRPS   = 2
	providerBurst = 4
)

// ProgressSink receives execution milestones. The orchestrator adapts it onto
// the progress tracker; tests record it directly.
type ProgressSink interface {
	PlatformStarted(jobID, platform, provider string)
	PlatformFallback(jobID, platform, from, to string, attempt int)
	PlatformFinished(jobID, platform string, ok bool)
}

// NopSink discards milestones.
type NopSink struct{}

func (NopSink) PlatformStarted(string, string, string)               {}
func (NopSink) PlatformFallback(string, string, string, string, int) {}
func (NopSink) PlatformFinished(string, string, bool)                {}

// JobContext carries the job and its best-effort cancellation flag through an
// execution. Cancellation only prevents future fallback attempts and future
// sequential platforms; an in-flight provider call is never interrupted.
type JobContext struct {
	Job      *domain.Job
	Canceled *atomic.Bool
}

func (jc JobContext) canceled() bool {
	return jc.Canceled != nil && jc.Canceled.Load()
}

// Executor drives plans to a terminal result.
type Executor struct {
	registry       *image.Registry
	sink           ProgressSink
	logger         zerolog.Logger
	maxConcurrency int
	retryDelay     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Options configures an Executor.
type Options struct {
	Registry       *image.Registry
	Sink           ProgressSink
	Logger         zerolog.Logger
	MaxConcurrency int
	RetryDelay     time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	Now            func() time.Time
}

func New(opts Options) *Executor {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = interAttemptDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		registry:       opts.Registry,
		sink:           opts.Sink,
		logger:         opts.Logger.With().Str("component", "executor").Logger(),
		maxConcurrency: opts.MaxConcurrency,
		retryDelay:     opts.RetryDelay,
		sleep:          opts.Sleep,
		now:            opts.Now,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Execute runs the plan to a terminal result. Partial success is success:
// the result aggregates outputs and failed platforms separately and Success
// is true whenever at least one platform produced an output.
func (e *Executor) Execute(ctx context.Context, plan domain.ExecutionPlan, jc JobContext) domain.JobResult {
	if plan.Mode == domain.ModeParallel && len(plan.Assignments) > 1 {
		return e.executeParallel(ctx, plan, jc)
	}
	return e.executeSequential(ctx, plan, jc)
}

type platformOutcome struct {
	output  *domain.PlatformOutput
	failure *domain.PlatformFailure
}

func (e *Executor) executeParallel(ctx context.Context, plan domain.ExecutionPlan, jc JobContext) domain.JobResult {
	sem := make(chan struct{}, e.maxConcurrency)
	outcomes := make([]platformOutcome, len(plan.Assignments))
	var wg sync.WaitGroup

	for i, a := range plan.Assignments {
		wg.Add(1)
		go func(i int, a domain.PlatformAssignment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = e.runPlatform(ctx, a, jc)
		}(i, a)
	}
	wg.Wait()

	return e.aggregate(plan, outcomes)
}

func (e *Executor) executeSequential(ctx context.Context, plan domain.ExecutionPlan, jc JobContext) domain.JobResult {
	outcomes := make([]platformOutcome, 0, len(plan.Assignments))
	for i, a := range plan.Assignments {
		if i > 0 && plan.InterJobDelay > 0 {
			if err := e.sleep(ctx, plan.InterJobDelay); err != nil {
				e.logger.Warn().Err(err).Str("job_id", jc.Job.ID).Msg("inter-job delay interrupted")
			}
		}
		if jc.canceled() {
			outcomes = append(outcomes, platformOutcome{failure: &domain.PlatformFailure{
				Platform: a.Platform,
				Reason:   "canceled before attempt",
			}})
			continue
		}
		outcomes = append(outcomes, e.runPlatform(ctx, a, jc))
	}
	return e.aggregate(plan, outcomes)
}

// runPlatform walks one platform's fallback chain to a terminal outcome.
func (e *Executor) runPlatform(ctx context.Context, a domain.PlatformAssignment, jc JobContext) platformOutcome {
	job := jc.Job
	candidates := e.fallbackChain(a, job.BudgetTier)
	started := e.now()
	attempts := 0
	lastProvider := a.Provider
	var lastErr error

	e.sink.PlatformStarted(job.ID, a.Platform, a.Provider)

	for i, cand := range candidates {
		if jc.canceled() {
			break
		}
		if i > 0 {
			e.sink.PlatformFallback(job.ID, a.Platform, lastProvider, cand.Provider, attempts)
			if err := e.sleep(ctx, e.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		lastProvider = cand.Provider

		outputs, err := e.attempt(ctx, cand, a.Platform, job)
		if err != nil {
			lastErr = err
			e.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("platform", a.Platform).
				Str("provider", cand.Provider).
				Str("tier", cand.Tier).
				Int("attempt", attempts).
				Msg("provider attempt failed")
			continue
		}

		out := outputs[0]
		e.sink.PlatformFinished(job.ID, a.Platform, true)
		return platformOutcome{output: &domain.PlatformOutput{
			Platform:   a.Platform,
			Provider:   cand.Provider,
			Tier:       cand.Tier,
			StorageKey: out.StorageKey,
			Format:     out.Format,
			Width:      out.Width,
			Height:     out.Height,
			Cost:       cand.CostPerImage,
			Duration:   e.now().Sub(started),
			Attempts:   attempts,
			Degraded:   cand.Provider == costmodel.ProviderLocal && a.Provider != costmodel.ProviderLocal,
		}}
	}

	// Exhausted chain: explicit degradation policy, not a generic error
	// handler. The local path runs even for canceled jobs so a terminal
	// state is always reached.
	if local, ok := e.registry.Get(costmodel.ProviderLocal); ok && lastProvider != costmodel.ProviderLocal {
		attempts++
		outputs, err := local.Process(ctx, image.ProcessRequest{
			JobID:    job.ID,
			ImageKey: job.ImageKey,
			Style:    job.Style,
			Platform: a.Platform,
			Tier:     costmodel.TierBasic,
		})
		if err == nil && len(outputs) > 0 {
			e.sink.PlatformFinished(job.ID, a.Platform, true)
			return platformOutcome{output: &domain.PlatformOutput{
				Platform:   a.Platform,
				Provider:   costmodel.ProviderLocal,
				Tier:       costmodel.TierBasic,
				StorageKey: outputs[0].StorageKey,
				Format:     outputs[0].Format,
				Width:      outputs[0].Width,
				Height:     outputs[0].Height,
				Duration:   e.now().Sub(started),
				Attempts:   attempts,
				Degraded:   true,
			}}
		}
		if err != nil {
			lastErr = err
			lastProvider = costmodel.ProviderLocal
		}
	}

	reason := "no providers available"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	e.sink.PlatformFinished(job.ID, a.Platform, false)
	return platformOutcome{failure: &domain.PlatformFailure{
		Platform:     a.Platform,
		LastProvider: lastProvider,
		Reason:       reason,
		Attempts:     attempts,
		Duration:     e.now().Sub(started),
	}}
}

// attempt invokes one candidate under its per-call timeout and the provider's
// shared rate limiter.
func (e *Executor) attempt(ctx context.Context, cand costmodel.Candidate, platform string, job *domain.Job) ([]image.Output, error) {
	proc, ok := e.registry.Get(cand.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not configured", domain.ErrProviderFailure, cand.Provider)
	}

	timeout := time.Duration(float64(cand.ExpectedDuration) * timeoutFactor)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.limiter(cand.Provider).Wait(cctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrProviderFailure, err)
	}

	outputs, err := proc.Process(cctx, image.ProcessRequest{
		JobID:    job.ID,
		ImageKey: job.ImageKey,
		Style:    job.Style,
		Platform: platform,
		Tier:     cand.Tier,
		Quality:  cand.QualityScore,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", domain.ErrProviderFailure, cand.Provider, cand.Tier, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s returned no outputs", domain.ErrProviderFailure, cand.Provider, cand.Tier)
	}
	return outputs, nil
}

// fallbackChain orders candidates: the plan's primary assignment first, then
// the remaining allowed providers by descending predicted quality. The local
// provider is excluded here; it is the separate last-resort path.
func (e *Executor) fallbackChain(a domain.PlatformAssignment, tier domain.BudgetTier) []costmodel.Candidate {
	var chain []costmodel.Candidate
	if primary, ok := costmodel.Lookup(a.Provider, a.Tier); ok {
		chain = append(chain, primary)
	} else {
		e.logger.Warn().Str("provider", a.Provider).Str("tier", a.Tier).Msg("unknown primary assignment")
	}

	rest := costmodel.CandidatesFor(tier)
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].QualityScore > rest[j].QualityScore
	})
	seen := map[string]bool{a.Provider: true}
	for _, c := range rest {
		if c.Provider == costmodel.ProviderLocal || seen[c.Provider] {
			continue
		}
		seen[c.Provider] = true
		chain = append(chain, c)
	}
	return chain
}

func (e *Executor) aggregate(plan domain.ExecutionPlan, outcomes []platformOutcome) domain.JobResult {
	result := domain.JobResult{BudgetExceeded: plan.BudgetExceeded}
	for _, o := range outcomes {
		switch {
		case o.output != nil:
			result.Outputs = append(result.Outputs, *o.output)
			result.Attempts += o.output.Attempts
			result.TotalCost += o.output.Cost
			result.ProviderUsed = o.output.Provider
			if o.output.Degraded {
				result.Degraded = true
			}
		case o.failure != nil:
			result.FailedPlatforms = append(result.FailedPlatforms, *o.failure)
			result.Attempts += o.failure.Attempts
		}
	}
	result.Success = len(result.Outputs) > 0
	if !result.Success && len(result.FailedPlatforms) > 0 {
		result.Error = result.FailedPlatforms[len(result.FailedPlatforms)-1].Reason
	}
	return result
}

func (e *Executor) limiter(provider string) *rate.Limiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	l, ok := e.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(providerRPS), providerBurst)
		e.limiters[provider] = l
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
