// Package image holds the provider adapters the fallback executor dispatches
// to. Each external image service is one Processor variant; the set is closed
// so the fallback chain is enumerable at compile time instead of being driven
// by provider-name strings.
package image

import (
	"context"
	"time"
)

// ProcessRequest is the normalized request passed to any provider adapter.
type ProcessRequest struct {
	JobID    string
	ImageKey string
	Style    string
	Platform string
	Tier     string
	Quality  float64
}

// Output is one transformed image returned by a provider.
type Output struct {
	StorageKey string
	URL        string
	Format     string
	Width      int
	Height     int
}

// Processor is the uniform capability every provider adapter implements. The
// adapter must honor ctx cancellation and deadlines; the executor derives a
// per-call timeout from the candidate's expected duration.
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) ([]Output, error)
}

// Registry is the closed set of provider adapters. A nil field means the
// provider is not configured in this deployment.
type Registry struct {
	Gemini    Processor
	Replicate Processor
	Stability Processor
	Local     Processor
}

// Get resolves a provider name to its adapter.
func (r *Registry) Get(provider string) (Processor, bool) {
	var p Processor
	switch provider {
	case "gemini":
		p = r.Gemini
	case "replicate":
		p = r.Replicate
	case "stability":
		p = r.Stability
	case "local":
		p = r.Local
	default:
		return nil, false
	}
	if p == nil {
		return nil, false
	}
	return p, true
}

// sleepFor blocks for d or until the context ends. Shared by adapters that
// simulate latency when running without credentials.
func sleepFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
