package facility

import (
	"fmt"
	"strings"
)

// Options configures one classification pass.
type Options struct {
	// Threshold is the geometry distance in metres below which a record's
	// location is considered unchanged.
	Threshold float64
	// CompareAttrs are the attribute names compared for value changes.
	CompareAttrs []string
	// SQLSchema and SQLTable identify the register table the generated
	// UPDATE patches target.
	SQLSchema string
	SQLTable  string
}

// DefaultSchoolOptions returns the comparison configuration for the schools
// domain.
func DefaultSchoolOptions() Options {
	return Options{
		Threshold:    30,
		CompareAttrs: DefaultComparableAttrs(),
		SQLSchema:    "facilities_lds",
		SQLTable:     "nz_facilities",
	}
}

// DefaultHospitalOptions returns the comparison configuration for the
// hospitals domain. Hospital campuses are large, so the geometry tolerance
// is much wider than for schools.
func DefaultHospitalOptions() Options {
	return Options{
		Threshold:    350,
		CompareAttrs: DefaultComparableAttrs(),
		SQLSchema:    "facilities_lds",
		SQLTable:     "nz_facilities",
	}
}

// Result is the outcome of one classification pass. Register holds annotated
// copies of every register record; the inputs are never mutated.
type Result struct {
	// Register maps source id to the annotated copy of each register
	// record.
	Register map[int]*Facility
	// ExternalActions maps external source ids to their classification:
	// ActionAdd, ActionIgnore, or ActionNone for matched records.
	ExternalActions map[int]ChangeAction
}

// Matched returns the external ids which were compared against a register
// record.
func (r *Result) Matched() []int {
	var ids []int
	for id, action := range r.ExternalActions {
		if action == ActionNone {
			ids = append(ids, id)
		}
	}
	return ids
}

// Added returns the external ids classified as additions.
func (r *Result) Added() []int {
	var ids []int
	for id, action := range r.ExternalActions {
		if action == ActionAdd {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts summarises the register-side classification for reporting.
func (r *Result) Counts() map[ChangeAction]int {
	counts := make(map[ChangeAction]int)
	for _, f := range r.Register {
		counts[f.ChangeAction]++
	}
	for _, action := range r.ExternalActions {
		if action == ActionAdd {
			counts[ActionAdd]++
		}
	}
	return counts
}

// Classify compares the register collection against the external collection
// and classifies every record on both sides.
//
// Register records with a non-ignored external counterpart are compared and
// annotated with any geometry or attribute change; register records with no
// counterpart (or whose counterpart is flagged ignore) are classified for
// removal. External records absent from the register are classified as
// additions; records flagged ignore upstream never produce an addition.
//
// Classify is a pure function over its inputs: it returns annotated copies
// and leaves both maps untouched. Duplicate source ids within a collection
// are a caller error.
func Classify(register map[int]*Facility, external map[int]ExternalRecord, opts Options) (*Result, error) {
	if err := ValidateCompareAttrs(opts.CompareAttrs); err != nil {
		return nil, err
	}

	result := &Result{
		Register:        make(map[int]*Facility, len(register)),
		ExternalActions: make(map[int]ChangeAction, len(external)),
	}

	for id, f := range register {
		annotated := *f
		match, ok := external[id]
		if ok && match.Action() != ActionIgnore {
			cmp, err := Compare(f, match, opts.CompareAttrs)
			if err != nil {
				return nil, fmt.Errorf("comparing facility %d: %w", id, err)
			}
			applyComparison(&annotated, cmp, opts)
		} else {
			annotated.ChangeAction = ActionRemove
		}
		result.Register[id] = &annotated
	}

	for id, ext := range external {
		switch {
		case ext.Action() == ActionIgnore:
			result.ExternalActions[id] = ActionIgnore
		case register[id] == nil:
			result.ExternalActions[id] = ActionAdd
		default:
			result.ExternalActions[id] = ActionNone
		}
	}

	return result, nil
}

// applyComparison annotates one register record copy from a comparison.
// Geometry is checked first; attribute changes then either set update_attr
// or escalate an already-recorded geometry change to update_geom_attr.
func applyComparison(f *Facility, cmp Comparison, opts Options) {
	if !cmp.WithinThreshold(opts.Threshold) {
		f.ChangeAction = ActionUpdateGeom
		if cmp.Distance == nil {
			f.ChangeDescription = "Geom: missing"
		} else {
			f.ChangeDescription = fmt.Sprintf("Geom: %.1fm", *cmp.Distance)
		}
	}

	changed := cmp.changedAttrNames()
	if len(changed) == 0 {
		return
	}

	description := strings.Join(changed, ", ")
	sql := generateUpdateSQL(f, cmp, opts)
	if f.ChangeAction == ActionUpdateGeom {
		f.ChangeAction = ActionUpdateGeomAttr
		f.ChangeDescription = fmt.Sprintf("%s, Attrs: %s", f.ChangeDescription, description)
	} else {
		f.ChangeAction = ActionUpdateAttr
		f.ChangeDescription = fmt.Sprintf("Attrs: %s", description)
	}
	f.SQL = sql
}
