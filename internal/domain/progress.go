package domain

import "time"

// ProgressStatus enumerates progress record states. started and running are
// transient; completed and failed are terminal and entered exactly once.
type ProgressStatus string

const (
	ProgressStarted   ProgressStatus = "started"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// PlatformProgress is the per-platform sub-progress held for batch jobs.
type PlatformProgress struct {
	Status  string  `json:"status"`
	Percent float64 `json:"percent"`
}

// ProgressRecord is the externally visible progress of one job. It is mutated
// only by the progress tracker and read by any number of subscribers.
type ProgressRecord struct {
	JobID           string                      `json:"jobId"`
	OwnerID         string                      `json:"ownerId"`
	JobType         JobType                     `json:"jobType"`
	CurrentStep     int                         `json:"currentStep"`
	TotalSteps      int                         `json:"totalSteps"`
	CurrentStepName string                      `json:"currentStepName"`
	StepWeights     []int                       `json:"stepWeights"`
	Percentage      float64                     `json:"percentage"`
	StartedAt       time.Time                   `json:"startedAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
	ETA             *time.Time                  `json:"eta,omitempty"`
	Platforms       map[string]PlatformProgress `json:"platforms,omitempty"`
	Status          ProgressStatus              `json:"status"`
	Result          *JobResult                  `json:"result,omitempty"`
	Error           string                      `json:"error,omitempty"`
	FailedStep      string                      `json:"failedStep,omitempty"`
	ActualDuration  time.Duration               `json:"actualDuration,omitempty"`
}

// Terminal reports whether the record has reached a final state.
func (r *ProgressRecord) Terminal() bool {
	return r.Status == ProgressCompleted || r.Status == ProgressFailed
}

// ProgressUpdate is the reduced projection delivered to per-owner real-time
// channels on every transition.
type ProgressUpdate struct {
	JobID      string         `json:"jobId"`
	Status     ProgressStatus `json:"status"`
	Percentage float64        `json:"percentage"`
	Step       string         `json:"step"`
	ETA        *time.Time     `json:"eta,omitempty"`
}
