package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
	"omnishot/internal/providers/image"
)

type scriptedProcessor struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (p *scriptedProcessor) Process(ctx context.Context, req image.ProcessRequest) ([]image.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(call); err != nil {
			return nil, err
		}
	}
	return []image.Output{{
		StorageKey: "generated/" + req.JobID + "/" + req.Platform + ".png",
		Format:     "image/png",
		Width:      1024,
		Height:     1024,
	}}, nil
}

func succeed() *scriptedProcessor { return &scriptedProcessor{} }

func failing() *scriptedProcessor {
	return &scriptedProcessor{fail: func(int) error { return errors.New("provider down") }}
}

func instantSleep(context.Context, time.Duration) error { return nil }

type recordingSink struct {
	mu        sync.Mutex
	fallbacks int
	finished  map[string]bool
}

func newRecordingSink() *recordingSink { return &recordingSink{finished: make(map[string]bool)} }

func (s *recordingSink) PlatformStarted(string, string, string) {}

func (s *recordingSink) PlatformFallback(string, string, string, string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks++
}

func (s *recordingSink) PlatformFinished(_, platform string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[platform] = ok
}

func testJob(platforms ...string) *domain.Job {
	return &domain.Job{
		ID:         "job-1",
		OwnerID:    "owner-1",
		Type:       domain.JobTypeSingle,
		ImageKey:   "uploads/owner-1/selfie.jpg",
		Style:      "executive",
		Platforms:  platforms,
		BudgetTier: domain.BudgetTierProfessional,
	}
}

func planFor(mode domain.ExecutionMode, platforms ...string) domain.ExecutionPlan {
	plan := domain.ExecutionPlan{Strategy: domain.StrategyBalancedParallel, Mode: mode}
	for _, p := range platforms {
		plan.Assignments = append(plan.Assignments, domain.PlatformAssignment{
			Platform:          p,
			Provider:          costmodel.ProviderGemini,
			Tier:              costmodel.TierStandard,
			PredictedCost:     0.04,
			PredictedQuality:  0.80,
			PredictedDuration: 10 * time.Second,
		})
	}
	if mode == domain.ModeSequential {
		plan.InterJobDelay = 2 * time.Second
	}
	return plan
}

func newExecutor(reg *image.Registry, sink ProgressSink) *Executor {
	return New(Options{
		Registry: reg,
		Sink:     sink,
		Logger:   zerolog.Nop(),
		Sleep:    instantSleep,
	})
}

func TestExecuteFirstCandidateSucceeds(t *testing.T) {
	gemini := succeed()
	reg := &image.Registry{Gemini: gemini, Replicate: failing(), Stability: failing(), Local: succeed()}
	e := newExecutor(reg, NopSink{})

	result := e.Execute(context.Background(), planFor(domain.ModeParallel, "linkedin"), JobContext{Job: testJob("linkedin")})

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", result.Attempts)
	}
	if result.ProviderUsed != costmodel.ProviderGemini {
		t.Fatalf("provider = %q, want gemini", result.ProviderUsed)
	}
	if result.TotalCost != 0.04 {
		t.Fatalf("cost = %v, want 0.04", result.TotalCost)
	}
	if result.Degraded {
		t.Fatal("first-candidate success must not be degraded")
	}
}

func TestExecuteFallsBackThroughChain(t *testing.T) {
	// Professional-tier chain for a gemini/standard primary is gemini,
	// replicate, stability by descending quality. The first two fail.
	reg := &image.Registry{Gemini: failing(), Replicate: failing(), Stability: succeed(), Local: succeed()}
	sink := newRecordingSink()
	e := newExecutor(reg, sink)

	result := e.Execute(context.Background(), planFor(domain.ModeParallel, "linkedin"), JobContext{Job: testJob("linkedin")})

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Attempts != 3 {
		t.Fatalf("attempts = %d, want exactly 3", result.Attempts)
	}
	if result.ProviderUsed != costmodel.ProviderStability {
		t.Fatalf("provider = %q, want stability", result.ProviderUsed)
	}
	if sink.fallbacks != 2 {
		t.Fatalf("fallback transitions = %d, want 2", sink.fallbacks)
	}
}

func TestExecuteExhaustedChainDegradesToLocal(t *testing.T) {
	reg := &image.Registry{Gemini: failing(), Replicate: failing(), Stability: failing(), Local: succeed()}
	e := newExecutor(reg, NopSink{})

	result := e.Execute(context.Background(), planFor(domain.ModeParallel, "linkedin"), JobContext{Job: testJob("linkedin")})

	if !result.Success {
		t.Fatalf("degraded path should still succeed: %+v", result)
	}
	if !result.Degraded {
		t.Fatal("result must be flagged degraded")
	}
	if result.ProviderUsed != costmodel.ProviderLocal {
		t.Fatalf("provider = %q, want local", result.ProviderUsed)
	}
	if result.TotalCost != 0 {
		t.Fatalf("degraded output cost = %v, want 0", result.TotalCost)
	}
	// 3 external candidates + 1 local attempt.
	if result.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", result.Attempts)
	}
}

func TestExecuteEverythingFailsReachesTerminalFailure(t *testing.T) {
	reg := &image.Registry{Gemini: failing(), Replicate: failing(), Stability: failing(), Local: failing()}
	e := newExecutor(reg, NopSink{})

	done := make(chan domain.JobResult, 1)
	go func() {
		done <- e.Execute(context.Background(), planFor(domain.ModeParallel, "linkedin"), JobContext{Job: testJob("linkedin")})
	}()

	select {
	case result := <-done:
		if result.Success {
			t.Fatalf("result = %+v, want failure", result)
		}
		if len(result.FailedPlatforms) != 1 {
			t.Fatalf("failed platforms = %d, want 1", len(result.FailedPlatforms))
		}
		if result.Error == "" {
			t.Fatal("failure must carry the last provider error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("executor hung instead of reaching a terminal state")
	}
}

func TestExecuteParallelPartialSuccess(t *testing.T) {
	// Platform 2's chain fails everywhere including the local path;
	// platforms 1 and 3 succeed on the primary.
	reg := &image.Registry{
		Gemini:    &platformSwitchProcessor{failPlatform: "instagram"},
		Replicate: &platformSwitchProcessor{failPlatform: "instagram"},
		Stability: &platformSwitchProcessor{failPlatform: "instagram"},
		Local:     &platformSwitchProcessor{failPlatform: "instagram"},
	}
	sink := newRecordingSink()
	e := newExecutor(reg, sink)

	job := testJob("linkedin", "instagram", "facebook")
	result := e.Execute(context.Background(), planFor(domain.ModeParallel, "linkedin", "instagram", "facebook"), JobContext{Job: job})

	if !result.Success {
		t.Fatalf("partial success must be terminal success: %+v", result)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(result.Outputs))
	}
	if len(result.FailedPlatforms) != 1 || result.FailedPlatforms[0].Platform != "instagram" {
		t.Fatalf("failed platforms = %+v, want instagram", result.FailedPlatforms)
	}
	for _, out := range result.Outputs {
		if out.Platform == "instagram" {
			t.Fatal("failed platform listed among outputs")
		}
	}
	if !sink.finished["linkedin"] || !sink.finished["facebook"] || sink.finished["instagram"] {
		t.Fatalf("sink finished states = %+v", sink.finished)
	}
}

type platformSwitchProcessor struct {
	failPlatform string
}

func (p *platformSwitchProcessor) Process(ctx context.Context, req image.ProcessRequest) ([]image.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Platform == p.failPlatform {
		return nil, errors.New("provider rejected image")
	}
	return []image.Output{{StorageKey: "generated/" + req.JobID + "/" + req.Platform + ".png", Format: "image/png"}}, nil
}

func TestExecuteSequentialAppliesInterJobDelay(t *testing.T) {
	var delays []time.Duration
	e := New(Options{
		Registry: &image.Registry{Gemini: succeed(), Local: succeed()},
		Logger:   zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})

	job := testJob("linkedin", "instagram", "facebook")
	plan := planFor(domain.ModeSequential, "linkedin", "instagram", "facebook")
	result := e.Execute(context.Background(), plan, JobContext{Job: job})

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	// Two inter-job delays for three sequential platforms.
	count := 0
	for _, d := range delays {
		if d == plan.InterJobDelay {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("inter-job delays = %d (%v), want 2", count, delays)
	}
}

func TestExecuteCancelSkipsFutureAttempts(t *testing.T) {
	canceled := &atomic.Bool{}
	gemini := &scriptedProcessor{fail: func(int) error {
		// Cancel while the first platform's first attempt is in flight.
		canceled.Store(true)
		return errors.New("provider down")
	}}
	reg := &image.Registry{Gemini: gemini, Replicate: failing(), Stability: failing(), Local: succeed()}
	e := newExecutor(reg, NopSink{})

	job := testJob("linkedin", "instagram")
	plan := planFor(domain.ModeSequential, "linkedin", "instagram")
	result := e.Execute(context.Background(), plan, JobContext{Job: job, Canceled: canceled})

	// The first platform stops after its in-flight attempt and degrades to
	// local; the second platform is never attempted against providers.
	if gemini.calls != 1 {
		t.Fatalf("gemini calls = %d, want 1", gemini.calls)
	}
	for _, f := range result.FailedPlatforms {
		if f.Platform == "instagram" && f.Attempts > 0 {
			t.Fatalf("canceled platform still attempted providers: %+v", f)
		}
	}
}

func TestFallbackChainOrdering(t *testing.T) {
	e := newExecutor(&image.Registry{}, NopSink{})
	chain := e.fallbackChain(domain.PlatformAssignment{
		Platform: "linkedin",
		Provider: costmodel.ProviderGemini,
		Tier:     costmodel.TierStandard,
	}, domain.BudgetTierProfessional)

	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3 (%+v)", len(chain), chain)
	}
	if chain[0].Provider != costmodel.ProviderGemini {
		t.Fatalf("chain[0] = %s, want primary first", chain[0].Provider)
	}
	for i := 2; i < len(chain); i++ {
		if chain[i].QualityScore > chain[i-1].QualityScore {
			t.Fatalf("fallback candidates not in descending quality: %+v", chain)
		}
	}
	for _, c := range chain {
		if c.Provider == costmodel.ProviderLocal {
			t.Fatal("local provider must not appear in the external chain")
		}
	}
}

func TestExecuteCarriesBudgetExceededFlag(t *testing.T) {
	e := newExecutor(&image.Registry{Gemini: succeed(), Local: succeed()}, NopSink{})
	plan := planFor(domain.ModeParallel, "linkedin")
	plan.BudgetExceeded = true

	result := e.Execute(context.Background(), plan, JobContext{Job: testJob("linkedin")})
	if !result.BudgetExceeded {
		t.Fatal("budget downgrade metadata lost in execution")
	}
}
