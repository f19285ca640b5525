package image

import (
	"context"

	"github.com/rs/zerolog"

	"omnishot/internal/domain"
)

// NoopPrep passes the image handle through unchanged. Used when no optimizer
// service is configured.
type NoopPrep struct{}

func (NoopPrep) Optimize(_ context.Context, imageKey string) (string, error) {
	return imageKey, nil
}

// BestEffortPrep wraps an optimizer so its failures never reach the caller:
// on error the original handle passes through unchanged.
type BestEffortPrep struct {
	Inner  domain.ImagePrep
	Logger zerolog.Logger
}

func (p BestEffortPrep) Optimize(ctx context.Context, imageKey string) (string, error) {
	if p.Inner == nil {
		return imageKey, nil
	}
	optimized, err := p.Inner.Optimize(ctx, imageKey)
	if err != nil {
		p.Logger.Warn().Err(err).Str("image_key", imageKey).Msg("image prep failed, using original")
		return imageKey, nil
	}
	return optimized, nil
}

var (
	_ domain.ImagePrep = NoopPrep{}
	_ domain.ImagePrep = BestEffortPrep{}
)
