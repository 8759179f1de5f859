// Package apply replays a reviewed change set from the staging table into the
// authoritative facilities table.
//
// Each staged row moves through a small state machine: pending until its
// handler runs, applied on success, failed on any anomaly. Every mutation is
// wrapped in a count-returning CTE so the affected row count is checked
// against exactly one; the whole run shares one transaction which commits
// only if no row failed.
package apply

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/nz-facilities/internal/facility"
)

// RowState tracks one staged row through the run.
type RowState string

const (
	StatePending RowState = "pending"
	StateApplied RowState = "applied"
	StateFailed  RowState = "failed"
)

// Row is one staged change loaded from the temp facilities table.
type Row struct {
	FID              int
	FacilityID       int
	SourceFacilityID int
	Name             string
	SourceName       string
	Use              string
	UseType          string
	UseSubtype       string
	Occupancy        *int
	ChangeAction     facility.ChangeAction
	ChangeSQL        string
	ShapeWKT         string

	State  RowState
	Errors []string
}

// Fail marks the row failed and records why. Later anomalies append, so one
// row can carry several error descriptions.
func (r *Row) Fail(format string, args ...any) {
	r.State = StateFailed
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary is the per-action outcome of a run.
type Summary struct {
	RunID           string
	Added           int
	Deleted         int
	GeomChanged     int
	AttrsChanged    int
	GeomAttrChanged int
	Unchanged       int
	Failed          int
	RowCountBefore  int
	RowCountAfter   int
	Committed       bool
}

// Runner applies a staged change set.
type Runner struct {
	DB *sql.DB
	// Schema and Table locate the authoritative facilities table.
	Schema string
	Table  string
	// TempTable is the staging table holding reviewed changes.
	TempTable string
	// LogTable receives one row per committed run.
	LogTable string
	// DryRun runs every handler and check, then rolls back regardless.
	DryRun bool
}

// NewRunner returns a runner against the standard facilities tables.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{
		DB:        db,
		Schema:    "facilities",
		Table:     "facilities",
		TempTable: "facilities.temp_facilities",
		LogTable:  "facilities.facilities_logging",
	}
}

func (r *Runner) target() string {
	return fmt.Sprintf("%s.%s", r.Schema, r.Table)
}

// Run loads the staging table and applies every row. An empty staging table
// aborts the run: it means the reviewed change set was never loaded.
func (r *Runner) Run(ctx context.Context) (*Summary, []*Row, error) {
	rows, err := r.loadRows(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("staging table %s is empty, load the reviewed changes first", r.TempTable)
	}

	summary := &Summary{RunID: uuid.NewString()}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning apply transaction: %w", err)
	}
	defer tx.Rollback()

	if summary.RowCountBefore, err = r.countRows(ctx, tx); err != nil {
		return nil, nil, err
	}
	log.Printf("row count before update: %d", summary.RowCountBefore)

	for _, row := range rows {
		r.applyRow(ctx, tx, row, summary)
	}

	if summary.RowCountAfter, err = r.countRows(ctx, tx); err != nil {
		return nil, nil, err
	}

	if summary.Failed > 0 || r.DryRun {
		if err := tx.Rollback(); err != nil {
			return summary, rows, fmt.Errorf("rolling back apply transaction: %w", err)
		}
		if summary.Failed > 0 {
			if err := r.writeErrors(ctx, rows); err != nil {
				return summary, rows, err
			}
			log.Printf("update errors occurred, no changes made to the facilities table")
		}
		return summary, rows, nil
	}

	if err := r.writeRunLog(ctx, tx, summary); err != nil {
		return summary, rows, err
	}
	if err := tx.Commit(); err != nil {
		return summary, rows, fmt.Errorf("committing apply transaction: %w", err)
	}
	summary.Committed = true
	log.Printf("facilities table updated, now %d features", summary.RowCountAfter)
	return summary, rows, nil
}

func (r *Runner) applyRow(ctx context.Context, tx *sql.Tx, row *Row, summary *Summary) {
	row.State = StatePending
	switch row.ChangeAction {
	case facility.ActionAdd:
		r.applyAdd(ctx, tx, row)
		summary.Added++
	case facility.ActionRemove:
		r.applyRemove(ctx, tx, row)
		summary.Deleted++
	case facility.ActionUpdateGeom:
		r.applyGeom(ctx, tx, row)
		summary.GeomChanged++
	case facility.ActionUpdateAttr:
		r.applyAttrs(ctx, tx, row)
		summary.AttrsChanged++
	case facility.ActionUpdateGeomAttr:
		r.applyAttrs(ctx, tx, row)
		r.applyGeom(ctx, tx, row)
		summary.GeomAttrChanged++
	case facility.ActionNone:
		summary.Unchanged++
	default:
		row.Fail("change action %q is not valid, no change made to facility %d", row.ChangeAction, row.FacilityID)
	}
	if row.State == StatePending {
		row.State = StateApplied
	}
	if row.State == StateFailed {
		summary.Failed++
	}
}

func (r *Runner) applyAdd(ctx context.Context, tx *sql.Tx, row *Row) {
	query := fmt.Sprintf(`WITH a AS (
		INSERT INTO %s
		(source_facility_id, name, source_name, use, use_type, use_subtype,
		 estimated_occupancy, internal, internal_comments, last_modified, shape)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, NULL, CURRENT_DATE, ST_GeomFromText($8, 2193))
		RETURNING 1)
		SELECT count(*) FROM a`, r.target())
	count, err := countExec(ctx, tx, query,
		row.SourceFacilityID, row.Name, row.SourceName, row.Use, row.UseType,
		row.UseSubtype, row.Occupancy, row.ShapeWKT)
	if err != nil {
		row.Fail("failed to add facility with source_facility_id %d: %v", row.SourceFacilityID, err)
		return
	}
	if count != 1 {
		row.Fail("failed to add facility, added %d features when 1 should have been added", count)
	}
}

func (r *Runner) applyRemove(ctx context.Context, tx *sql.Tx, row *Row) {
	query := fmt.Sprintf(`WITH a AS (
		DELETE FROM %s WHERE facility_id = $1 RETURNING 1)
		SELECT count(*) FROM a`, r.target())
	count, err := countExec(ctx, tx, query, row.FacilityID)
	if err != nil {
		row.Fail("failed to delete facility %d: %v", row.FacilityID, err)
		return
	}
	if count != 1 {
		row.Fail("failed to delete facility, deleted %d features when 1 should have been deleted", count)
	}
}

func (r *Runner) applyGeom(ctx context.Context, tx *sql.Tx, row *Row) {
	var origWKT string
	selectGeom := fmt.Sprintf("SELECT ST_AsText(shape) FROM %s WHERE facility_id = $1", r.target())
	if err := tx.QueryRowContext(ctx, selectGeom, row.FacilityID).Scan(&origWKT); err != nil {
		row.Fail("failed to read existing geometry for facility %d: %v", row.FacilityID, err)
		return
	}

	query := fmt.Sprintf(`WITH a AS (
		UPDATE %s SET shape = ST_GeomFromText($1, 2193), last_modified = CURRENT_DATE
		WHERE facility_id = $2 RETURNING 1)
		SELECT count(*) FROM a`, r.target())
	count, err := countExec(ctx, tx, query, row.ShapeWKT, row.FacilityID)
	if err != nil {
		row.Fail("failed to update geometry for facility %d: %v", row.FacilityID, err)
		return
	}
	if count != 1 {
		row.Fail("failed to update geometry, updated %d features when 1 should have been updated", count)
	}
	// A staged geometry identical to the stored one means the change set is
	// stale or mislabelled.
	if origWKT == row.ShapeWKT {
		row.Fail("failed to update geometry, old and new geometries the same")
	}
}

func (r *Runner) applyAttrs(ctx context.Context, tx *sql.Tx, row *Row) {
	wrapped, err := WrapChangeSQL(row.ChangeSQL)
	if err != nil {
		row.Fail("failed to modify facility %d: %v", row.FacilityID, err)
		return
	}
	count, err := countExec(ctx, tx, wrapped)
	if err != nil {
		row.Fail("failed to modify facility %d with change sql: %v", row.FacilityID, err)
		return
	}
	if count != 1 {
		row.Fail("failed to modify facility, modified %d features when 1 should have been modified", count)
	}
}

// WrapChangeSQL wraps a staged UPDATE patch in a count-returning CTE, so the
// number of rows it touched is observable.
func WrapChangeSQL(changeSQL string) (string, error) {
	trimmed := strings.TrimSpace(changeSQL)
	if trimmed == "" {
		return "", fmt.Errorf("row carries no change sql")
	}
	trimmed = strings.TrimSuffix(trimmed, ";")
	return fmt.Sprintf("WITH a AS (%s RETURNING 1) SELECT count(*) FROM a", trimmed), nil
}

func countExec(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func (r *Runner) countRows(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT count(*) FROM %s", r.target())
	if err := tx.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting facilities rows: %w", err)
	}
	return count, nil
}

func (r *Runner) loadRows(ctx context.Context) ([]*Row, error) {
	query := fmt.Sprintf(`
		SELECT fid, facility_id, source_facility_id, name, source_name,
		       use, use_type, use_subtype, estimated_occupancy,
		       change_action, change_sql, ST_AsText(shape)
		FROM %s ORDER BY fid`, r.TempTable)
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading staging table: %w", err)
	}
	defer rows.Close()

	var staged []*Row
	for rows.Next() {
		row := &Row{State: StatePending}
		var (
			action, changeSQL, shapeWKT *string
			occupancy                   *int
		)
		err := rows.Scan(&row.FID, &row.FacilityID, &row.SourceFacilityID,
			&row.Name, &row.SourceName, &row.Use, &row.UseType, &row.UseSubtype,
			&occupancy, &action, &changeSQL, &shapeWKT)
		if err != nil {
			return nil, fmt.Errorf("scanning staging row: %w", err)
		}
		row.Occupancy = occupancy
		if action != nil {
			row.ChangeAction = facility.ChangeAction(*action)
		}
		if changeSQL != nil {
			row.ChangeSQL = *changeSQL
		}
		if shapeWKT != nil {
			row.ShapeWKT = *shapeWKT
		}
		staged = append(staged, row)
	}
	return staged, rows.Err()
}

// writeErrors appends each failed row's error descriptions to the staging
// table, in its own transaction after the apply transaction rolled back.
func (r *Runner) writeErrors(ctx context.Context, rows []*Row) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning error-description transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		UPDATE %s
		SET error_description = coalesce(error_description, '') || $1
		WHERE fid = $2`, r.TempTable)
	for _, row := range rows {
		if row.State != StateFailed {
			continue
		}
		description := strings.Join(row.Errors, ". ") + ". "
		if _, err := tx.ExecContext(ctx, query, description, row.FID); err != nil {
			return fmt.Errorf("writing error description for fid %d: %w", row.FID, err)
		}
	}
	return tx.Commit()
}

func (r *Runner) writeRunLog(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(run_id, run_time, added, deleted, geom_changed, attributes_changed, geom_and_attributes_changed)
		VALUES ($1, now(), $2, $3, $4, $5, $6)`, r.LogTable)
	_, err := tx.ExecContext(ctx, query,
		summary.RunID, summary.Added, summary.Deleted,
		summary.GeomChanged, summary.AttrsChanged, summary.GeomAttrChanged)
	if err != nil {
		return fmt.Errorf("writing run log: %w", err)
	}
	return nil
}

// Print writes the run summary in the fixed report layout.
func (s *Summary) Print() {
	fmt.Printf("\n%d features added\n", s.Added)
	fmt.Printf("%d features deleted\n", s.Deleted)
	fmt.Printf("%d geometries modified\n", s.GeomChanged)
	fmt.Printf("%d attributes changed\n", s.AttrsChanged)
	fmt.Printf("%d features had both geometries and attributes changed\n", s.GeomAttrChanged)
	fmt.Printf("%d features unchanged\n", s.Unchanged)
	if s.Failed > 0 {
		fmt.Printf("%d features failed\n", s.Failed)
	}
	fmt.Printf("\nrow count before update: %d\n", s.RowCountBefore)
	fmt.Printf("row count after update: %d\n", s.RowCountAfter)
}
