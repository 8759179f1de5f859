package db

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/nz-facilities/internal/facility"
)

// facilitiesSQL loads the register rows for one facility use, with the
// geometry as GeoJSON so it decodes without a PostGIS driver binding.
const facilitiesSQL = `
SELECT
    facility_id,
    source_facility_id,
    name,
    source_name,
    use,
    use_type,
    use_subtype,
    estimated_occupancy,
    last_modified,
    ST_AsGeoJSON(shape) AS shape
FROM %s.%s
WHERE use = $1
`

// LoadFacilities loads the register records of one facility use (School,
// Hospital) keyed by source id.
func (c *Connection) LoadFacilities(ctx context.Context, schema, table, use string) (map[int]*facility.Facility, error) {
	query := fmt.Sprintf(facilitiesSQL, quoteIdent(schema), quoteIdent(table))
	rows, err := c.DB.QueryContext(ctx, query, use)
	if err != nil {
		return nil, fmt.Errorf("querying facilities: %w", err)
	}
	defer rows.Close()

	register := make(map[int]*facility.Facility)
	for rows.Next() {
		var (
			f            facility.Facility
			occupancy    *int
			lastModified *time.Time
			shape        *string
		)
		err := rows.Scan(
			&f.FacilityID,
			&f.SourceID,
			&f.Name,
			&f.SourceName,
			&f.Use,
			&f.UseType,
			&f.UseSubtype,
			&occupancy,
			&lastModified,
			&shape,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning facility row: %w", err)
		}
		f.Occupancy = occupancy
		f.LastModified = lastModified
		if shape != nil {
			geom, err := geojson.UnmarshalGeometry([]byte(*shape))
			if err != nil {
				return nil, fmt.Errorf("decoding geometry for facility %d: %w", f.FacilityID, err)
			}
			f.Geom = geom.Geometry()
		}
		register[f.SourceID] = &f
	}
	return register, rows.Err()
}

// quoteIdent double-quotes a schema or table identifier.
func quoteIdent(s string) string {
	return `"` + s + `"`
}
