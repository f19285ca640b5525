package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Prep stages an upload for provider submission: it verifies the source
// object exists and copies it under optimized/ so providers never read the
// caller's original key directly.
type Prep struct {
	Store *FileStore
}

func (p Prep) Optimize(ctx context.Context, imageKey string) (string, error) {
	if p.Store == nil {
		return imageKey, nil
	}
	data, err := p.Store.Read(ctx, imageKey)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	staged := path.Join("optimized", strings.TrimPrefix(imageKey, "uploads/"))
	return p.Store.Write(ctx, staged, data)
}
