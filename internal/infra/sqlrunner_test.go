package infra

import (
	"strings"
	"testing"

	"omnishot/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 7c2a41de-9b3f-4d8a-9f1c-6e0b82a4d515\nselect 1;"
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "7c2a41de-9b3f-4d8a-9f1c-6e0b82a4d515" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.TrimSpace(trimmed) != "select 1;" {
		t.Fatalf("trimmed = %q", trimmed)
	}
}

func TestExtractMarkerRejectsUnmarkedQuery(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatal("unmarked query accepted")
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nselect 1;"); err == nil {
		t.Fatal("malformed marker accepted")
	}
}

func TestInlineStatementsCarryValidMarkers(t *testing.T) {
	statements := map[string]string{
		"insert job":            sqlinline.QInsertJob,
		"update job status":     sqlinline.QUpdateJobStatus,
		"select job":            sqlinline.QSelectJobByID,
		"claim next job":        sqlinline.QClaimNextJob,
		"upsert progress":       sqlinline.QUpsertProgress,
		"select progress":       sqlinline.QSelectProgress,
		"delete stale progress": sqlinline.QDeleteCompletedProgressBefore,
		"insert usage event":    sqlinline.QInsertUsageEvent,
		"aggregate usage":       sqlinline.QAggregateUsage,
	}
	seen := make(map[string]string, len(statements))
	for name, stmt := range statements {
		marker, _, err := extractMarker(stmt)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if prev, dup := seen[marker]; dup {
			t.Fatalf("%s reuses marker of %s", name, prev)
		}
		seen[marker] = name
	}
}
