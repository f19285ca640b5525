package repo

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"omnishot/internal/domain"
)

type execRecorder struct {
	query string
	args  []any
}

func (e *execRecorder) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.query = query
	e.args = args
	return pgconn.CommandTag{}, nil
}

func (e *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func TestAppendPassesEventIdentity(t *testing.T) {
	rec := &execRecorder{}
	r := NewUsageRepository(rec)

	ev := domain.UsageEvent{
		ID:        "9f1c2d3e-4b5a-6c7d-8e9f-0a1b2c3d4e5f",
		JobID:     "11111111-2222-3333-4444-555555555555",
		Provider:  "gemini",
		Cost:      0.04,
		Duration:  1500 * time.Millisecond,
		Success:   true,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := r.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(rec.args) != 7 {
		t.Fatalf("Append bound %d args, want 7 (%v)", len(rec.args), rec.args)
	}
	if rec.args[0] != ev.ID {
		t.Fatalf("first bound arg = %v, want the event id %s", rec.args[0], ev.ID)
	}
	if rec.args[4] != int64(1500) {
		t.Fatalf("duration arg = %v, want 1500ms", rec.args[4])
	}
	if rec.args[6] != ev.CreatedAt {
		t.Fatalf("created_at arg = %v, want %v", rec.args[6], ev.CreatedAt)
	}
}
