package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"omnishot/internal/costmodel"
	"omnishot/internal/domain"
	"omnishot/internal/executor"
	"omnishot/internal/ledger"
	"omnishot/internal/progress"
	"omnishot/internal/providers/image"
	"omnishot/internal/strategy"
)

type okProcessor struct{}

func (okProcessor) Process(ctx context.Context, req image.ProcessRequest) ([]image.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []image.Output{{StorageKey: "generated/" + req.JobID + "/" + req.Platform + ".png", Format: "image/png"}}, nil
}

type downProcessor struct{}

func (downProcessor) Process(context.Context, image.ProcessRequest) ([]image.Output, error) {
	return nil, errors.New("provider down")
}

func newTestService(reg *image.Registry) *Service {
	tracker := progress.NewTracker(progress.Options{Logger: zerolog.Nop()})
	led := ledger.New(ledger.Options{Logger: zerolog.Nop()})
	exec := executor.New(executor.Options{
		Registry: reg,
		Sink:     TrackerSink{Tracker: tracker},
		Logger:   zerolog.Nop(),
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	return New(Options{
		Selector: strategy.NewSelector(led, zerolog.Nop()),
		Executor: exec,
		Tracker:  tracker,
		Ledger:   led,
		Prep:     image.NoopPrep{},
		Logger:   zerolog.Nop(),
	})
}

func validSpec() JobSpec {
	return JobSpec{
		OwnerID:    "owner-1",
		Type:       domain.JobTypeSingle,
		ImageKey:   "uploads/owner-1/selfie.jpg",
		Style:      "executive",
		Platforms:  []string{"linkedin"},
		BudgetTier: domain.BudgetTierProfessional,
	}
}

func TestSubmitJobValidation(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: okProcessor{}, Local: okProcessor{}})

	tests := []struct {
		name    string
		mutate  func(*JobSpec)
		wantErr error
	}{
		{"missing owner", func(s *JobSpec) { s.OwnerID = "" }, domain.ErrValidation},
		{"unknown job type", func(s *JobSpec) { s.Type = "mosaic" }, domain.ErrValidation},
		{"missing image", func(s *JobSpec) { s.ImageKey = " " }, domain.ErrValidation},
		{"no platforms", func(s *JobSpec) { s.Platforms = nil }, domain.ErrValidation},
		{"unknown tier", func(s *JobSpec) { s.BudgetTier = "platinum" }, domain.ErrValidation},
		{"unknown strategy override", func(s *JobSpec) { s.Options.Strategy = "yolo" }, domain.ErrValidation},
		{
			"too many platforms for tier",
			func(s *JobSpec) {
				s.BudgetTier = domain.BudgetTierFree
				s.Platforms = []string{"linkedin", "instagram", "facebook", "twitter"}
			},
			domain.ErrQuotaExceeded,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			if _, err := svc.SubmitJob(context.Background(), spec); !errors.Is(err, tc.wantErr) {
				t.Fatalf("SubmitJob error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSubmitJobRunsToCompletion(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: okProcessor{}, Replicate: okProcessor{}, Stability: okProcessor{}, Local: okProcessor{}})

	jobID, err := svc.SubmitJob(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	svc.Wait()

	rec, err := svc.GetProgress(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.Status != domain.ProgressCompleted {
		t.Fatalf("status = %s, want completed (%+v)", rec.Status, rec)
	}
	if rec.Result == nil || !rec.Result.Success {
		t.Fatalf("result = %+v, want success", rec.Result)
	}
	if rec.Percentage != 100 {
		t.Fatalf("percentage = %v, want 100", rec.Percentage)
	}

	report, err := svc.UsageReport(context.Background(), rec.StartedAt, time.Now())
	if err != nil {
		t.Fatalf("UsageReport: %v", err)
	}
	if report.TotalImages != 1 {
		t.Fatalf("ledger images = %d, want 1", report.TotalImages)
	}
}

func TestAllProvidersDownStillTerminatesDegraded(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: downProcessor{}, Replicate: downProcessor{}, Stability: downProcessor{}, Local: okProcessor{}})

	jobID, err := svc.SubmitJob(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	svc.Wait()

	rec, err := svc.GetProgress(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.Status != domain.ProgressCompleted {
		t.Fatalf("status = %s, want completed via degraded path", rec.Status)
	}
	if rec.Result == nil || !rec.Result.Degraded {
		t.Fatalf("result = %+v, want degraded", rec.Result)
	}
	if rec.Result.ProviderUsed != costmodel.ProviderLocal {
		t.Fatalf("provider = %q, want local", rec.Result.ProviderUsed)
	}
}

func TestEverythingDownFailsTerminal(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: downProcessor{}, Replicate: downProcessor{}, Stability: downProcessor{}, Local: downProcessor{}})

	jobID, err := svc.SubmitJob(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	svc.Wait()

	rec, err := svc.GetProgress(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.Status != domain.ProgressFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.FailedStep != progress.StepGeneration {
		t.Fatalf("failed step = %q", rec.FailedStep)
	}
	if rec.Error == "" {
		t.Fatal("failed record must carry an error message")
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: okProcessor{}, Local: okProcessor{}})

	var (
		mu   sync.Mutex
		last domain.ProgressRecord
	)
	jobID, err := svc.SubmitJob(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	// Subscribing may race job start; retry briefly like a polling client.
	// Once attached the current state replays, so even a finished job
	// delivers at least one record.
	var unsub func()
	for i := 0; i < 100; i++ {
		unsub, err = svc.Subscribe(context.Background(), jobID, func(rec domain.ProgressRecord) {
			mu.Lock()
			last = rec
			mu.Unlock()
		})
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last.JobID != jobID {
		t.Fatalf("subscriber never invoked: %+v", last)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc := newTestService(&image.Registry{Gemini: okProcessor{}, Local: okProcessor{}})
	if svc.Cancel("nope") {
		t.Fatal("Cancel of unknown job reported true")
	}
}

func TestBudgetDowngradeSurfacesAsMetadata(t *testing.T) {
	reg := &image.Registry{Gemini: okProcessor{}, Replicate: okProcessor{}, Stability: okProcessor{}, Local: okProcessor{}}
	svc := newTestService(reg)
	// Exhaust the starter budget first so every paid strategy is filtered.
	for i := 0; i < 300; i++ {
		svc.ledger.Record(context.Background(), "seed", "replicate", 0.12, time.Second, true)
	}

	spec := validSpec()
	spec.BudgetTier = domain.BudgetTierStarter
	spec.Options.Premium = true
	jobID, err := svc.SubmitJob(context.Background(), spec)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	svc.Wait()

	rec, err := svc.GetProgress(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.Status != domain.ProgressCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.Result == nil || !rec.Result.BudgetExceeded {
		t.Fatalf("result = %+v, want BudgetExceeded metadata", rec.Result)
	}
}

type memJobQueue struct {
	mu   sync.Mutex
	jobs []*domain.Job
}

func (q *memJobQueue) Create(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *job
	q.jobs = append(q.jobs, &cp)
	return nil
}

func (q *memJobQueue) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, _ *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			j.Status = status
		}
	}
	return nil
}

func (q *memJobQueue) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (q *memJobQueue) ClaimNext(_ context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Status == domain.JobStatusCreated {
			j.Status = domain.JobStatusRunning
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memProgressStore struct {
	mu   sync.Mutex
	recs map[string]domain.ProgressRecord
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{recs: make(map[string]domain.ProgressRecord)}
}

func (s *memProgressStore) Save(_ context.Context, rec *domain.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.JobID] = *rec
	return nil
}

func (s *memProgressStore) Get(_ context.Context, jobID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *memProgressStore) DeleteCompletedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Enqueue mode splits submission and execution across two services that only
// share the durable stores, the way the api and worker binaries deploy.
func TestEnqueuedJobProgressFollowsWorker(t *testing.T) {
	ctx := context.Background()
	store := newMemProgressStore()
	queue := &memJobQueue{}
	reg := &image.Registry{Gemini: okProcessor{}, Local: okProcessor{}}

	apiLed := ledger.New(ledger.Options{Logger: zerolog.Nop()})
	api := New(Options{
		Selector: strategy.NewSelector(apiLed, zerolog.Nop()),
		Tracker:  progress.NewTracker(progress.Options{Repo: store, Logger: zerolog.Nop()}),
		Ledger:   apiLed,
		Jobs:     queue,
		Enqueue:  true,
		Logger:   zerolog.Nop(),
	})

	workerLed := ledger.New(ledger.Options{Logger: zerolog.Nop()})
	workerTracker := progress.NewTracker(progress.Options{Repo: store, Logger: zerolog.Nop()})
	worker := New(Options{
		Selector: strategy.NewSelector(workerLed, zerolog.Nop()),
		Executor: executor.New(executor.Options{
			Registry: reg,
			Sink:     TrackerSink{Tracker: workerTracker},
			Logger:   zerolog.Nop(),
			Sleep:    func(context.Context, time.Duration) error { return nil },
		}),
		Tracker: workerTracker,
		Ledger:  workerLed,
		Jobs:    queue,
		Logger:  zerolog.Nop(),
	})

	jobID, err := api.SubmitJob(ctx, validSpec())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if rec, err := api.GetProgress(ctx, jobID); err != nil || rec.Status != domain.ProgressStarted {
		t.Fatalf("progress right after submission = %+v, err=%v", rec, err)
	}

	job, err := queue.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job.ID != jobID {
		t.Fatalf("claimed %s, want %s", job.ID, jobID)
	}
	result := worker.Run(ctx, job, nil)
	if !result.Success {
		t.Fatalf("worker result = %+v", result)
	}

	// The submitting service must see the worker's terminal state, not a
	// copy frozen at submission time.
	rec, err := api.GetProgress(ctx, jobID)
	if err != nil {
		t.Fatalf("GetProgress after worker run: %v", err)
	}
	if rec.Status != domain.ProgressCompleted || rec.Percentage != 100 {
		t.Fatalf("api read %v%% status=%s, want 100%% completed", rec.Percentage, rec.Status)
	}

	stored, err := queue.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", stored.Status)
	}
}
