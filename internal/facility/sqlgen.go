package facility

import (
	"fmt"
	"strings"
)

// generateUpdateSQL renders the advisory UPDATE patch for a record whose
// attributes changed. Per changed attribute a fixed mapping decides which
// physical columns to touch; a change to source_name updates both the
// display name and the source name. Attributes with no mapping still appear
// in the change description but contribute nothing here.
//
// The WHERE clause uses both the internal facility id and the external
// source id as a double-key guard against the external id having been
// reused. Applying the statement is the database update tool's job; this
// core only describes.
func generateUpdateSQL(f *Facility, cmp Comparison, opts Options) string {
	changed := cmp.ChangedAttrs()

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s.%s\nSET\n", opts.SQLSchema, opts.SQLTable)
	for _, name := range cmp.changedAttrNames() {
		pair := changed[name]
		newValue := quoteSQL(pair[1])
		switch name {
		case "source_name":
			fmt.Fprintf(&b, "  name=%s,\n  source_name=%s,\n", newValue, newValue)
		case "source_type":
			fmt.Fprintf(&b, "  use_type=%s,\n", newValue)
		case "occupancy":
			fmt.Fprintf(&b, "  estimated_occupancy=%s,\n", newValue)
		}
	}
	b.WriteString("  last_modified=CURRENT_DATE\n")
	fmt.Fprintf(&b, "WHERE facility_id=%d AND source_facility_id=%d;", f.FacilityID, f.SourceID)
	return b.String()
}

// quoteSQL wraps a value as a SQL string literal, doubling embedded single
// quotes.
func quoteSQL(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
