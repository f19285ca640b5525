package orchestrator

import (
	"fmt"

	"omnishot/internal/executor"
	"omnishot/internal/progress"
)

// TrackerSink adapts execution milestones onto the progress tracker. Fallback
// transitions surface in the per-platform status so subscribers can show
// which provider the job moved to.
type TrackerSink struct {
	Tracker *progress.Tracker
}

func (s TrackerSink) PlatformStarted(jobID, platform, provider string) {
	s.Tracker.SetPlatformProgress(jobID, platform, "processing:"+provider, 10)
}

func (s TrackerSink) PlatformFallback(jobID, platform, from, to string, attempt int) {
	status := fmt.Sprintf("fallback:%s->%s", from, to)
	s.Tracker.SetPlatformProgress(jobID, platform, status, 50)
}

func (s TrackerSink) PlatformFinished(jobID, platform string, ok bool) {
	status := "completed"
	if !ok {
		status = "failed"
	}
	s.Tracker.SetPlatformProgress(jobID, platform, status, 100)
}

var _ executor.ProgressSink = TrackerSink{}
