package facility

import (
	"github.com/nz-facilities/internal/geometry"
)

// Comparison is the frozen result of comparing one register record against
// its same-id external counterpart.
type Comparison struct {
	// Distance between the two geometries in metres, nil when either side
	// has no geometry.
	Distance *float64
	// Attrs maps each requested attribute name to its (register, external)
	// value pair.
	Attrs map[string][2]string
}

// Compare builds a Comparison of f against ext over the requested attribute
// names. Both records are expected to carry the same source id; geometries
// must already share one projected CRS. Requesting an attribute not declared
// comparable returns an error before any values are read.
func Compare(f *Facility, ext ExternalRecord, attrs []string) (Comparison, error) {
	if err := ValidateCompareAttrs(attrs); err != nil {
		return Comparison{}, err
	}

	cmp := Comparison{Attrs: make(map[string][2]string, len(attrs))}
	if f.Geom != nil && ext.Geom() != nil {
		d := geometry.Distance(f.Geom, ext.Geom())
		cmp.Distance = &d
	}
	for _, name := range attrs {
		cmp.Attrs[name] = [2]string{f.attrValue(name), externalAttrValue(ext, name)}
	}
	return cmp, nil
}

// WithinThreshold reports whether the geometry distance is known and
// strictly less than the threshold. A missing distance (either geometry
// null) is never within threshold, which downstream treats as a geometry
// change.
func (c Comparison) WithinThreshold(threshold float64) bool {
	return c.Distance != nil && *c.Distance < threshold
}

// ChangedAttrs returns the subset of compared attributes whose two values
// differ under ordinary equality. No fuzzy or normalised comparison happens
// at this layer.
func (c Comparison) ChangedAttrs() map[string][2]string {
	changed := make(map[string][2]string)
	for name, pair := range c.Attrs {
		if pair[0] != pair[1] {
			changed[name] = pair
		}
	}
	return changed
}

// changedAttrNames returns the changed attribute names in registry order, so
// descriptions and generated SQL are deterministic.
func (c Comparison) changedAttrNames() []string {
	changed := c.ChangedAttrs()
	var names []string
	for _, spec := range sourceAttrs {
		if _, ok := changed[spec.Name]; ok {
			names = append(names, spec.Name)
		}
	}
	return names
}
