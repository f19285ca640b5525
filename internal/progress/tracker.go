// Package progress implements the per-job progress state machine: weighted
// steps, ETA extrapolation, per-job subscribers and per-owner real-time
// projections. Records flow through a fast cache and a durable store on every
// transition; both writes are best-effort and never abort the job driving
// the update.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"omnishot/internal/domain"
)

// Subscriber receives the full record after every transition of one job.
type Subscriber func(rec domain.ProgressRecord)

type jobState struct {
	rec     domain.ProgressRecord
	steps   []Step
	subs    map[int]Subscriber
	nextSub int
}

// Tracker owns every live progress record, partitioned by job id. Updates
// for one job are serialized through the tracker mutex, so readers never
// observe out-of-order percentages.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*jobState

	repo      domain.ProgressRepository
	cache     domain.ProgressCache
	realtime  domain.RealtimePublisher
	feed      domain.RealtimeSubscriber
	logger    zerolog.Logger
	now       func() time.Time
	retention time.Duration
}

// Options configures a Tracker. Repo, Cache, Realtime and Feed are all
// optional; a nil dependency disables that side effect. Feed is only
// consulted for jobs this process is not running.
type Options struct {
	Repo      domain.ProgressRepository
	Cache     domain.ProgressCache
	Realtime  domain.RealtimePublisher
	Feed      domain.RealtimeSubscriber
	Logger    zerolog.Logger
	Now       func() time.Time
	Retention time.Duration
}

// DefaultRetention is how long completed records stay readable before
// eviction.
const DefaultRetention = 2 * time.Hour

func NewTracker(opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Tracker{
		jobs:      make(map[string]*jobState),
		repo:      opts.Repo,
		cache:     opts.Cache,
		realtime:  opts.Realtime,
		feed:      opts.Feed,
		logger:    opts.Logger.With().Str("component", "progress").Logger(),
		now:       opts.Now,
		retention: opts.Retention,
	}
}

// Start registers a job and enters the started state. Idempotent: starting a
// known job returns its existing record.
func (t *Tracker) Start(jobID, ownerID string, jobType domain.JobType) domain.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.jobs[jobID]; ok {
		return st.rec
	}

	rec, steps := t.newRecord(jobID, ownerID, jobType)
	st := &jobState{
		rec:   rec,
		steps: steps,
		subs:  make(map[int]Subscriber),
	}
	t.jobs[jobID] = st
	t.publishLocked(st)
	return st.rec
}

// Seed persists a started record for a job another process will run, writing
// only to the shared stores. Nothing is retained in memory, so reads in this
// process keep falling through to the stores as the runner advances them.
// An existing record wins.
func (t *Tracker) Seed(ctx context.Context, jobID, ownerID string, jobType domain.JobType) domain.ProgressRecord {
	if rec, err := t.Get(ctx, jobID); err == nil {
		return rec
	}
	rec, _ := t.newRecord(jobID, ownerID, jobType)
	if t.cache != nil {
		if err := t.cache.Put(ctx, &rec); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress seed cache write failed")
		}
	}
	if t.repo != nil {
		if err := t.repo.Save(ctx, &rec); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress seed persist failed")
		}
	}
	return rec
}

func (t *Tracker) newRecord(jobID, ownerID string, jobType domain.JobType) (domain.ProgressRecord, []Step) {
	steps := StepsFor(jobType)
	weights := make([]int, len(steps))
	for i, s := range steps {
		weights[i] = s.Weight
	}
	now := t.now()
	return domain.ProgressRecord{
		JobID:       jobID,
		OwnerID:     ownerID,
		JobType:     jobType,
		TotalSteps:  len(steps),
		StepWeights: weights,
		StartedAt:   now,
		UpdatedAt:   now,
		Status:      domain.ProgressStarted,
		Platforms:   make(map[string]domain.PlatformProgress),
	}, steps
}

// CompleteStep marks the named step finished, setting the percentage to the
// cumulative weight through that step.
func (t *Tracker) CompleteStep(jobID, stepName string) {
	t.StepProgress(jobID, stepName, 1)
}

// StepProgress sets the percentage to the cumulative weight of every step
// preceding stepName plus fraction of the step's own weight. fraction is
// clamped to [0,1]. Percentages never regress through this path.
func (t *Tracker) StepProgress(jobID, stepName string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok || st.rec.Terminal() {
		return
	}
	t.stepProgressLocked(st, stepName, fraction)
}

func (t *Tracker) stepProgressLocked(st *jobState, stepName string, fraction float64) {
	cumulative := 0.0
	idx := -1
	for i, s := range st.steps {
		if s.Name == stepName {
			idx = i
			break
		}
		cumulative += float64(s.Weight)
	}
	if idx < 0 {
		t.logger.Warn().Str("job_id", st.rec.JobID).Str("step", stepName).Msg("unknown step ignored")
		return
	}

	pct := cumulative + fraction*float64(st.steps[idx].Weight)
	if pct < st.rec.Percentage {
		pct = st.rec.Percentage
	}
	st.rec.CurrentStep = idx + 1
	st.rec.CurrentStepName = stepName
	t.applyLocked(st, pct)
}

// SetPercentage is the explicit override used by job types without discrete
// steps. Unlike step-driven updates it may move the percentage backwards.
func (t *Tracker) SetPercentage(jobID string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok || st.rec.Terminal() {
		return
	}
	t.applyLocked(st, pct)
}

// SetPlatformProgress updates batch sub-progress for one platform and folds
// completed platforms into the generation step's fraction.
func (t *Tracker) SetPlatformProgress(jobID, platform, status string, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok || st.rec.Terminal() {
		return
	}
	if st.rec.Platforms == nil {
		st.rec.Platforms = make(map[string]domain.PlatformProgress)
	}
	st.rec.Platforms[platform] = domain.PlatformProgress{Status: status, Percent: percent}

	total := 0
	done := 0
	for _, p := range st.rec.Platforms {
		total++
		if p.Percent >= 100 {
			done++
		}
	}
	if total == 0 {
		return
	}
	t.stepProgressLocked(st, generationStepName(st.rec.JobType), float64(done)/float64(total))
}

// Complete freezes the record in the completed state. Later transitions are
// idempotent no-ops, never errors.
func (t *Tracker) Complete(jobID string, result *domain.JobResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok || st.rec.Terminal() {
		return
	}
	now := t.now()
	st.rec.Status = domain.ProgressCompleted
	st.rec.Result = result
	st.rec.Percentage = 100
	st.rec.CurrentStep = st.rec.TotalSteps
	st.rec.ActualDuration = now.Sub(st.rec.StartedAt)
	st.rec.UpdatedAt = now
	st.rec.ETA = nil
	t.publishLocked(st)
}

// Fail freezes the record in the failed state, recording the failing step
// and error message.
func (t *Tracker) Fail(jobID, stepName string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok || st.rec.Terminal() {
		return
	}
	now := t.now()
	st.rec.Status = domain.ProgressFailed
	st.rec.FailedStep = stepName
	if cause != nil {
		st.rec.Error = cause.Error()
	}
	st.rec.ActualDuration = now.Sub(st.rec.StartedAt)
	st.rec.UpdatedAt = now
	st.rec.ETA = nil
	t.publishLocked(st)
}

// Get returns the progress record for a job, consulting memory, then the
// fast cache, then the durable store. A durable hit after a cache miss
// re-primes the cache.
func (t *Tracker) Get(ctx context.Context, jobID string) (domain.ProgressRecord, error) {
	t.mu.Lock()
	if st, ok := t.jobs[jobID]; ok {
		rec := st.rec
		t.mu.Unlock()
		return rec, nil
	}
	t.mu.Unlock()

	if t.cache != nil {
		if rec, err := t.cache.Get(ctx, jobID); err == nil && rec != nil {
			return *rec, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress cache read failed")
		}
	}
	if t.repo != nil {
		rec, err := t.repo.Get(ctx, jobID)
		if err != nil {
			return domain.ProgressRecord{}, err
		}
		if t.cache != nil {
			if err := t.cache.Put(ctx, rec); err != nil {
				t.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress cache re-prime failed")
			}
		}
		return *rec, nil
	}
	return domain.ProgressRecord{}, domain.ErrNotFound
}

// Subscribe registers a per-job subscriber invoked on every transition,
// starting with the current state. Jobs running in this process deliver
// synchronously from the update path; jobs another process runs are followed
// through the realtime feed. The returned function removes the subscription.
func (t *Tracker) Subscribe(ctx context.Context, jobID string, fn Subscriber) (func(), error) {
	t.mu.Lock()
	if st, ok := t.jobs[jobID]; ok {
		id := st.nextSub
		st.nextSub++
		st.subs[id] = fn
		rec := st.rec
		t.mu.Unlock()

		// Replay the current state so a subscriber attaching after the last
		// transition (including a terminal one) still observes it.
		t.invoke(fn, rec)
		return func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if st, ok := t.jobs[jobID]; ok {
				delete(st.subs, id)
			}
		}, nil
	}
	t.mu.Unlock()
	return t.subscribeRemote(ctx, jobID, fn)
}

// subscribeRemote follows a job owned by another process: attach to the feed
// first, then replay the stored record, so no transition between the two is
// lost. Duplicates are possible; subscribers see state snapshots, not deltas.
func (t *Tracker) subscribeRemote(ctx context.Context, jobID string, fn Subscriber) (func(), error) {
	if t.feed == nil {
		rec, err := t.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		t.invoke(fn, rec)
		return func() {}, nil
	}

	stream, stop, err := t.feed.SubscribeJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec, err := t.Get(ctx, jobID)
	if err != nil {
		stop()
		return nil, err
	}
	t.invoke(fn, rec)
	if rec.Terminal() {
		stop()
		return func() {}, nil
	}

	go func() {
		for r := range stream {
			t.invoke(fn, r)
		}
	}()
	return stop, nil
}

// Evict drops in-memory records for terminal jobs older than the retention
// window and removes their durable rows. Intended to run periodically.
func (t *Tracker) Evict(ctx context.Context) {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	for id, st := range t.jobs {
		if st.rec.Terminal() && st.rec.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
	t.mu.Unlock()

	if t.repo != nil {
		if n, err := t.repo.DeleteCompletedBefore(ctx, cutoff); err != nil {
			t.logger.Warn().Err(err).Msg("progress eviction failed")
		} else if n > 0 {
			t.logger.Debug().Int64("evicted", n).Msg("expired progress records removed")
		}
	}
}

func (t *Tracker) applyLocked(st *jobState, pct float64) {
	st.rec.Status = domain.ProgressRunning
	st.rec.Percentage = pct
	now := t.now()
	st.rec.UpdatedAt = now

	// ETA extrapolates total duration from elapsed time at the current
	// percentage; it is only meaningful once some progress exists.
	if pct > 0 {
		elapsed := float64(now.Sub(st.rec.StartedAt))
		denom := pct
		if denom < 1 {
			denom = 1
		}
		eta := st.rec.StartedAt.Add(time.Duration(elapsed / denom * 100))
		st.rec.ETA = &eta
	} else {
		st.rec.ETA = nil
	}
	t.publishLocked(st)
}

// publishLocked runs the side effects of a transition: persist, notify
// per-job subscribers, publish to the realtime channels. Failures in any of
// them are logged and swallowed.
func (t *Tracker) publishLocked(st *jobState) {
	rec := st.rec
	ctx := context.Background()

	if t.cache != nil {
		if err := t.cache.Put(ctx, &rec); err != nil {
			t.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("progress cache write failed")
		}
	}
	if t.repo != nil {
		if err := t.repo.Save(ctx, &rec); err != nil {
			t.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("progress persist failed")
		}
	}

	for _, fn := range st.subs {
		t.invoke(fn, rec)
	}

	if t.realtime != nil {
		if err := t.realtime.Publish(ctx, &rec); err != nil {
			t.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("realtime publish failed")
		}
	}
}

func (t *Tracker) invoke(fn Subscriber, rec domain.ProgressRecord) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("job_id", rec.JobID).Msg("progress subscriber panicked")
		}
	}()
	fn(rec)
}

func generationStepName(t domain.JobType) string {
	switch t {
	case domain.JobTypeQualityOnly:
		return StepAnalysis
	case domain.JobTypeComparison:
		// Platform sub-progress lands on the second generation stage; the
		// first is completed wholesale by the orchestrator.
		return StepGenerationB
	}
	return StepGeneration
}
