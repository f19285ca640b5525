// Package cache backs the fast progress read path and realtime fan-out with
// Redis. The durable copy lives in Postgres; everything here may be lost and
// rebuilt without affecting job outcomes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"omnishot/internal/domain"
)

const defaultTTL = 2 * time.Hour

func progressKey(jobID string) string {
	return "progress:job:" + jobID
}

// OwnerChannel is the Pub/Sub channel carrying reduced progress projections
// for every job of one owner.
func OwnerChannel(ownerID string) string {
	return "progress:owner:" + ownerID
}

// JobChannel is the Pub/Sub channel carrying full progress records for one
// job. Processes serving event streams on jobs they do not run follow it.
func JobChannel(jobID string) string {
	return "progress:job:" + jobID + ":events"
}

// Dial parses a redis:// URL, connects and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ProgressCache stores progress records as JSON values with a TTL so
// abandoned jobs age out on their own.
type ProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressCache(client *redis.Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProgressCache{client: client, ttl: ttl}
}

func (c *ProgressCache) Put(ctx context.Context, rec *domain.ProgressRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	if err := c.client.Set(ctx, progressKey(rec.JobID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache progress %s: %w", rec.JobID, err)
	}
	return nil
}

func (c *ProgressCache) Get(ctx context.Context, jobID string) (*domain.ProgressRecord, error) {
	raw, err := c.client.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read cached progress %s: %w", jobID, err)
	}
	var rec domain.ProgressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cached progress %s: %w", jobID, err)
	}
	return &rec, nil
}

// Publisher pushes every transition onto the job's channel as a full record
// and onto the owner's channel as a reduced projection.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, rec *domain.ProgressRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	if err := p.client.Publish(ctx, JobChannel(rec.JobID), raw).Err(); err != nil {
		return fmt.Errorf("publish progress for job %s: %w", rec.JobID, err)
	}

	update := domain.ProgressUpdate{
		JobID:      rec.JobID,
		Status:     rec.Status,
		Percentage: rec.Percentage,
		Step:       rec.CurrentStepName,
		ETA:        rec.ETA,
	}
	reduced, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal progress update: %w", err)
	}
	if err := p.client.Publish(ctx, OwnerChannel(rec.OwnerID), reduced).Err(); err != nil {
		return fmt.Errorf("publish progress for owner %s: %w", rec.OwnerID, err)
	}
	return nil
}

// Feed follows per-job channels so a process can stream transitions of jobs
// another process is running.
type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func (f *Feed) SubscribeJob(ctx context.Context, jobID string) (<-chan domain.ProgressRecord, func(), error) {
	sub := f.client.Subscribe(ctx, JobChannel(jobID))
	// Force the subscribe round-trip so a dead connection fails here, not
	// silently on the stream.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe progress feed %s: %w", jobID, err)
	}

	out := make(chan domain.ProgressRecord, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var rec domain.ProgressRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
