package facility

import (
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// ChangeAction is the classification verdict for a single record.
type ChangeAction string

const (
	ActionNone           ChangeAction = ""
	ActionIgnore         ChangeAction = "ignore"
	ActionAdd            ChangeAction = "add"
	ActionRemove         ChangeAction = "remove"
	ActionUpdateGeom     ChangeAction = "update_geom"
	ActionUpdateAttr     ChangeAction = "update_attr"
	ActionUpdateGeomAttr ChangeAction = "update_geom_attr"
	ActionCannotCompare  ChangeAction = "cannot_compare"
)

// AttrSpec declares one attribute of the source record model and whether it
// participates in comparison. The registry replaces the runtime type
// introspection the original QGIS tooling used.
type AttrSpec struct {
	Name              string
	Comparable        bool
	DefaultComparable bool
}

// sourceAttrs is the fixed, ordered attribute registry shared by register and
// external records. Occupancy is comparable but excluded from the default set
// because baseline values differ too much between sources to be useful.
var sourceAttrs = []AttrSpec{
	{Name: "source_id", Comparable: true, DefaultComparable: true},
	{Name: "source_name", Comparable: true, DefaultComparable: true},
	{Name: "source_type", Comparable: true, DefaultComparable: true},
	{Name: "occupancy", Comparable: true, DefaultComparable: false},
	{Name: "comments", Comparable: false, DefaultComparable: false},
}

// ComparableAttrs returns the names of all attributes eligible for
// comparison, in registry order.
func ComparableAttrs() []string {
	var names []string
	for _, spec := range sourceAttrs {
		if spec.Comparable {
			names = append(names, spec.Name)
		}
	}
	return names
}

// DefaultComparableAttrs returns the names compared when the caller does not
// opt into a custom set.
func DefaultComparableAttrs() []string {
	var names []string
	for _, spec := range sourceAttrs {
		if spec.DefaultComparable {
			names = append(names, spec.Name)
		}
	}
	return names
}

// ValidateCompareAttrs rejects attribute names which are not declared
// comparable. Requesting an unknown attribute is a programming or
// configuration error and fails before any classification happens.
func ValidateCompareAttrs(attrs []string) error {
	for _, name := range attrs {
		found := false
		for _, spec := range sourceAttrs {
			if spec.Name == name {
				if !spec.Comparable {
					return fmt.Errorf("attribute %q is not comparable", name)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown comparison attribute %q", name)
		}
	}
	return nil
}

// ExternalRecord is the capability set an external source record (API row,
// spreadsheet row, scraped feature) must provide to be compared against the
// register.
type ExternalRecord interface {
	SourceID() int
	SourceName() string
	SourceType() string
	Occupancy() *int
	// Geom returns the record's geometry in the shared projected CRS, or
	// nil when no location is known.
	Geom() orb.Geometry
	// Action returns any classification assigned upstream, in particular
	// ActionIgnore set by a pre-filter.
	Action() ChangeAction
}

// Facility is one record of the authoritative facilities register.
type Facility struct {
	// FacilityID is the internal key in the authoritative store.
	FacilityID int
	// SourceID is the external system's identifier, the join key for
	// comparison.
	SourceID     int
	Name         string
	SourceName   string
	Use          string
	UseType      string
	UseSubtype   string
	Occupancy    *int
	LastModified *time.Time
	Geom         orb.Geometry
	Comments     string

	// Set by classification.
	ChangeAction      ChangeAction
	ChangeDescription string
	SQL               string
}

// attrValue renders a named comparable attribute of a register record for
// equality comparison.
func (f *Facility) attrValue(name string) string {
	switch name {
	case "source_id":
		return strconv.Itoa(f.SourceID)
	case "source_name":
		return f.SourceName
	case "source_type":
		return f.UseType
	case "occupancy":
		return renderOccupancy(f.Occupancy)
	}
	return ""
}

// externalAttrValue renders a named comparable attribute of an external
// record for equality comparison.
func externalAttrValue(r ExternalRecord, name string) string {
	switch name {
	case "source_id":
		return strconv.Itoa(r.SourceID())
	case "source_name":
		return r.SourceName()
	case "source_type":
		return r.SourceType()
	case "occupancy":
		return renderOccupancy(r.Occupancy())
	}
	return ""
}

func renderOccupancy(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
