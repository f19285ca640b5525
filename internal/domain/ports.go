package domain

import "context"

// ProgressCache is the fast read path for progress records. It is primed on
// every transition and consulted before the durable store. Progress
// durability through the two stores is at-least-once, not exactly-once.
type ProgressCache interface {
	Put(ctx context.Context, rec *ProgressRecord) error
	Get(ctx context.Context, jobID string) (*ProgressRecord, error)
}

// RealtimePublisher delivers each progress transition to cross-process
// consumers: the full record on the job's channel, a reduced projection on
// the owner's. Delivery is fire-and-forget; failures never reach the state
// machine driving the update.
type RealtimePublisher interface {
	Publish(ctx context.Context, rec *ProgressRecord) error
}

// RealtimeSubscriber follows the transition stream of one job. Processes
// that serve reads on jobs another process runs attach through it. The
// returned stop function detaches and ends the channel.
type RealtimeSubscriber interface {
	SubscribeJob(ctx context.Context, jobID string) (<-chan ProgressRecord, func(), error)
}

// ImagePrep optimizes an uploaded image before provider submission. It is
// best-effort: on failure the original handle passes through unchanged.
type ImagePrep interface {
	Optimize(ctx context.Context, imageKey string) (string, error)
}
