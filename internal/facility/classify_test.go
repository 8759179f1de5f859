package facility

import (
	"reflect"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

// extRecord is a minimal external record for tests.
type extRecord struct {
	id     int
	name   string
	typ    string
	occ    *int
	geom   orb.Geometry
	action ChangeAction
}

func (e *extRecord) SourceID() int        { return e.id }
func (e *extRecord) SourceName() string   { return e.name }
func (e *extRecord) SourceType() string   { return e.typ }
func (e *extRecord) Occupancy() *int      { return e.occ }
func (e *extRecord) Geom() orb.Geometry   { return e.geom }
func (e *extRecord) Action() ChangeAction { return e.action }

func testOptions() Options {
	return Options{
		Threshold:    30,
		CompareAttrs: []string{"source_name"},
		SQLSchema:    "facilities_lds",
		SQLTable:     "nz_facilities",
	}
}

func TestCompareRejectsUnknownAttribute(t *testing.T) {
	f := &Facility{SourceID: 1}
	ext := &extRecord{id: 1}

	if _, err := Compare(f, ext, []string{"no_such_attr"}); err == nil {
		t.Error("Compare() with unknown attribute should fail")
	}
	if _, err := Compare(f, ext, []string{"comments"}); err == nil {
		t.Error("Compare() with non-comparable attribute should fail")
	}
}

func TestWithinThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     bool
	}{
		{"just inside", 29.999, true},
		{"exactly at threshold", 30.0, false},
		{"above threshold", 30.1, false},
		{"zero", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.distance
			cmp := Comparison{Distance: &d}
			if got := cmp.WithinThreshold(30); got != tt.want {
				t.Errorf("WithinThreshold(30) with distance %v = %v, want %v", tt.distance, got, tt.want)
			}
		})
	}

	// Missing distance is never within threshold.
	if (Comparison{}).WithinThreshold(30) {
		t.Error("WithinThreshold() with nil distance should be false")
	}
}

func TestClassifyUnchangedIsNoOp(t *testing.T) {
	register := map[int]*Facility{
		7: {FacilityID: 1, SourceID: 7, SourceName: "Kaikoura Primary", UseType: "Full Primary", Geom: orb.Point{1600000, 5400000}},
	}
	external := map[int]ExternalRecord{
		7: &extRecord{id: 7, name: "Kaikoura Primary", typ: "Full Primary", geom: orb.Point{1600000, 5400000}},
	}

	result, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}

	got := result.Register[7]
	if got.ChangeAction != ActionNone {
		t.Errorf("ChangeAction = %q, want none", got.ChangeAction)
	}
	if got.ChangeDescription != "" || got.SQL != "" {
		t.Errorf("unchanged record should carry no description or SQL, got %q / %q", got.ChangeDescription, got.SQL)
	}

	// Re-running on the same unmodified inputs produces the same verdicts.
	again, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() second run error: %v", err)
	}
	if !reflect.DeepEqual(result.Register[7], again.Register[7]) {
		t.Error("re-running Classify() on unchanged input was not a no-op")
	}

	// Inputs are never mutated.
	if register[7].ChangeAction != ActionNone {
		t.Error("Classify() mutated its input register map")
	}
}

func TestClassifyPartition(t *testing.T) {
	geom := orb.Point{1600000, 5400000}
	register := map[int]*Facility{
		1: {FacilityID: 10, SourceID: 1, SourceName: "A", Geom: geom},
		2: {FacilityID: 11, SourceID: 2, SourceName: "B", Geom: geom},
		3: {FacilityID: 12, SourceID: 3, SourceName: "C", Geom: geom},
	}
	external := map[int]ExternalRecord{
		1: &extRecord{id: 1, name: "A", geom: geom},
		3: &extRecord{id: 3, name: "C changed", geom: geom},
		4: &extRecord{id: 4, name: "D", geom: geom},
	}

	opts := testOptions()
	opts.CompareAttrs = []string{"source_name"}
	result, err := Classify(register, external, opts)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}

	// Every register id is either matched-and-annotated or removed.
	if got := result.Register[1].ChangeAction; got != ActionNone {
		t.Errorf("register 1 action = %q, want none", got)
	}
	if got := result.Register[2].ChangeAction; got != ActionRemove {
		t.Errorf("register 2 action = %q, want remove", got)
	}
	if got := result.Register[3].ChangeAction; got != ActionUpdateAttr {
		t.Errorf("register 3 action = %q, want update_attr", got)
	}

	// Every external id is either matched or added, never both.
	if got := result.ExternalActions[1]; got != ActionNone {
		t.Errorf("external 1 action = %q, want matched", got)
	}
	if got := result.ExternalActions[4]; got != ActionAdd {
		t.Errorf("external 4 action = %q, want add", got)
	}
	added := result.Added()
	if len(added) != 1 || added[0] != 4 {
		t.Errorf("Added() = %v, want [4]", added)
	}
	if len(result.Matched())+len(added) != len(external) {
		t.Error("matched and added do not partition the external set")
	}
}

func TestClassifyNullGeometryForcesGeomChange(t *testing.T) {
	register := map[int]*Facility{
		5: {FacilityID: 20, SourceID: 5, SourceName: "Same", Geom: orb.Point{1600000, 5400000}},
	}
	external := map[int]ExternalRecord{
		5: &extRecord{id: 5, name: "Same", geom: nil},
	}

	result, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	got := result.Register[5]
	if got.ChangeAction != ActionUpdateGeom {
		t.Errorf("ChangeAction = %q, want update_geom", got.ChangeAction)
	}
	if got.ChangeDescription != "Geom: missing" {
		t.Errorf("ChangeDescription = %q, want %q", got.ChangeDescription, "Geom: missing")
	}
}

func TestClassifyGeometryAndAttributeEscalation(t *testing.T) {
	register := map[int]*Facility{
		5: {FacilityID: 20, SourceID: 5, SourceName: "Old", Geom: orb.Point{1600000, 5400000}},
	}
	external := map[int]ExternalRecord{
		5: &extRecord{id: 5, name: "New", geom: orb.Point{1600100, 5400000}},
	}

	result, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	got := result.Register[5]
	if got.ChangeAction != ActionUpdateGeomAttr {
		t.Errorf("ChangeAction = %q, want update_geom_attr", got.ChangeAction)
	}
	want := "Geom: 100.0m, Attrs: source_name"
	if got.ChangeDescription != want {
		t.Errorf("ChangeDescription = %q, want %q", got.ChangeDescription, want)
	}
	if got.SQL == "" {
		t.Error("escalated record should carry SQL")
	}
}

func TestClassifyIgnoreSuppressesBothDirections(t *testing.T) {
	geom := orb.Point{1600000, 5400000}
	register := map[int]*Facility{
		9: {FacilityID: 30, SourceID: 9, SourceName: "Matched but ignored", Geom: geom},
	}
	external := map[int]ExternalRecord{
		9:  &extRecord{id: 9, name: "Matched but ignored", geom: geom, action: ActionIgnore},
		10: &extRecord{id: 10, name: "Proposed School", geom: geom, action: ActionIgnore},
	}

	result, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}

	// An ignored external never produces add.
	if got := result.ExternalActions[10]; got != ActionIgnore {
		t.Errorf("external 10 action = %q, want ignore", got)
	}
	if len(result.Added()) != 0 {
		t.Errorf("Added() = %v, want empty", result.Added())
	}

	// The register counterpart of an ignored external is removed, not left
	// unchanged.
	if got := result.Register[9].ChangeAction; got != ActionRemove {
		t.Errorf("register 9 action = %q, want remove", got)
	}
}

func TestClassifyConcreteScenario(t *testing.T) {
	p1 := orb.Point{1600000, 5400000}
	register := map[int]*Facility{
		7: {FacilityID: 42, SourceID: 7, SourceName: "Old Name", Geom: p1},
	}
	external := map[int]ExternalRecord{
		7: &extRecord{id: 7, name: "New Name", geom: p1},
	}

	result, err := Classify(register, external, testOptions())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}

	got := result.Register[7]
	if got.ChangeAction != ActionUpdateAttr {
		t.Errorf("ChangeAction = %q, want update_attr", got.ChangeAction)
	}
	if !strings.Contains(got.ChangeDescription, "source_name") {
		t.Errorf("ChangeDescription = %q, want it to mention source_name", got.ChangeDescription)
	}
	for _, fragment := range []string{"name='New Name'", "source_name='New Name'", "last_modified=CURRENT_DATE", "WHERE facility_id=42 AND source_facility_id=7;"} {
		if !strings.Contains(got.SQL, fragment) {
			t.Errorf("SQL missing %q:\n%s", fragment, got.SQL)
		}
	}
}

func TestGenerateUpdateSQLMapping(t *testing.T) {
	occOld, occNew := 100, 120
	f := &Facility{FacilityID: 1, SourceID: 2, SourceName: "Old", UseType: "Old Type", Occupancy: &occOld}
	ext := &extRecord{id: 2, name: "O'Neill School", typ: "New Type", occ: &occNew}

	cmp, err := Compare(f, ext, []string{"source_name", "source_type", "occupancy"})
	if err != nil {
		t.Fatalf("Compare() error: %v", err)
	}
	sql := generateUpdateSQL(f, cmp, testOptions())

	for _, fragment := range []string{
		"UPDATE facilities_lds.nz_facilities",
		"name='O''Neill School'",
		"source_name='O''Neill School'",
		"use_type='New Type'",
		"estimated_occupancy='120'",
	} {
		if !strings.Contains(sql, fragment) {
			t.Errorf("SQL missing %q:\n%s", fragment, sql)
		}
	}
}
