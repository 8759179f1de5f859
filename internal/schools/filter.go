package schools

import (
	"strings"

	"github.com/paulmach/orb"

	"github.com/nz-facilities/internal/facility"
	"github.com/nz-facilities/internal/geometry"
)

// FilterConfig drives the pre-classification filter. The values are
// per-domain configuration rather than fixed business rules; the defaults
// match the schools domain.
type FilterConfig struct {
	// IgnoreNameSubstring flags records whose name contains this substring,
	// case-insensitively. These are facilities announced but not yet open.
	IgnoreNameSubstring string
	// SatelliteSubtype names the record sub-type checked for co-location.
	SatelliteSubtype string
	// SatelliteDistance is the nearest-neighbour distance in metres below
	// which a SatelliteSubtype record is taken to sit inside another,
	// already-counted facility.
	SatelliteDistance float64
}

// DefaultFilterConfig returns the schools-domain filter: proposed schools,
// and teen parent units hosted within another school's grounds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		IgnoreNameSubstring: "proposed",
		SatelliteSubtype:    "Teen Parent Unit",
		SatelliteDistance:   100,
	}
}

// Filter flags records to ignore before classification. Flagged records are
// excluded in both directions downstream: they never produce an addition, and
// any register counterpart is classified for removal.
//
// The satellite check measures each candidate against every other geometried
// record in the same collection; with fewer than two geometried records there
// is no neighbour to measure against and the record passes through.
func Filter(records map[int]facility.ExternalRecord, cfg FilterConfig) {
	for id, record := range records {
		school, ok := record.(*School)
		if !ok {
			continue
		}
		if cfg.IgnoreNameSubstring != "" &&
			strings.Contains(strings.ToLower(school.Name), strings.ToLower(cfg.IgnoreNameSubstring)) {
			school.ChangeAction = facility.ActionIgnore
		}
		if school.Type != cfg.SatelliteSubtype || school.Point == nil {
			continue
		}
		pt, ok := school.Point.(orb.Point)
		if !ok {
			continue
		}
		others := otherPoints(records, id)
		if d, ok := geometry.NearestDistance(pt, others); ok && d < cfg.SatelliteDistance {
			school.ChangeAction = facility.ActionIgnore
		}
	}
}

// otherPoints collects the geometried locations of every record except the
// one being checked.
func otherPoints(records map[int]facility.ExternalRecord, exclude int) []orb.Point {
	var points []orb.Point
	for id, record := range records {
		if id == exclude || record.Geom() == nil {
			continue
		}
		if pt, ok := record.Geom().(orb.Point); ok {
			points = append(points, pt)
		}
	}
	return points
}
