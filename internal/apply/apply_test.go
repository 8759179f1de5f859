package apply

import (
	"context"
	"strings"
	"testing"

	"github.com/nz-facilities/internal/facility"
)

func TestWrapChangeSQL(t *testing.T) {
	patch := "UPDATE facilities_lds.nz_facilities\nSET\n  name='New Name'\nWHERE facility_id=1 AND source_facility_id=2;"
	wrapped, err := WrapChangeSQL(patch)
	if err != nil {
		t.Fatalf("WrapChangeSQL() error: %v", err)
	}
	if !strings.HasPrefix(wrapped, "WITH a AS (UPDATE ") {
		t.Errorf("wrapped SQL = %q", wrapped)
	}
	if !strings.HasSuffix(wrapped, "RETURNING 1) SELECT count(*) FROM a") {
		t.Errorf("wrapped SQL = %q", wrapped)
	}
	if strings.Contains(wrapped, ";") {
		t.Error("trailing semicolon must be stripped before wrapping")
	}
}

func TestWrapChangeSQLEmpty(t *testing.T) {
	if _, err := WrapChangeSQL("  "); err == nil {
		t.Error("WrapChangeSQL() on blank input should fail")
	}
}

func TestRowFailAccumulates(t *testing.T) {
	row := &Row{State: StatePending}
	row.Fail("failed to update geometry, updated %d features when 1 should have been updated", 0)
	row.Fail("failed to update geometry, old and new geometries the same")

	if row.State != StateFailed {
		t.Errorf("state = %q, want failed", row.State)
	}
	if len(row.Errors) != 2 {
		t.Fatalf("got %d errors, want 2", len(row.Errors))
	}
	if !strings.Contains(row.Errors[0], "updated 0 features") {
		t.Errorf("first error = %q", row.Errors[0])
	}
}

func TestApplyRowStateTransitions(t *testing.T) {
	runner := NewRunner(nil)
	ctx := context.Background()

	// Rows needing no database work resolve purely through the state
	// machine.
	unchanged := &Row{FID: 1}
	invalid := &Row{FID: 2, FacilityID: 9, ChangeAction: facility.ChangeAction("bogus")}

	summary := &Summary{}
	runner.applyRow(ctx, nil, unchanged, summary)
	runner.applyRow(ctx, nil, invalid, summary)

	if unchanged.State != StateApplied {
		t.Errorf("unchanged row state = %q, want applied", unchanged.State)
	}
	if summary.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", summary.Unchanged)
	}
	if invalid.State != StateFailed {
		t.Errorf("invalid-action row state = %q, want failed", invalid.State)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if len(invalid.Errors) != 1 || !strings.Contains(invalid.Errors[0], "bogus") {
		t.Errorf("invalid-action errors = %v", invalid.Errors)
	}
}
