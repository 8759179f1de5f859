// Package gpkg reads and writes GeoPackage files, enough of the standard for
// the layers this tool produces and consumes: the core metadata tables,
// feature tables with GPKG binary geometry, and the QGIS layer_styles table.
package gpkg

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// SRIDNZTM is the EPSG code of NZ Transverse Mercator 2000, the projection
// every layer in these files uses.
const SRIDNZTM = 2193

const applicationID = 0x47504B47 // "GPKG"

// Field describes one attribute column of a feature table.
type Field struct {
	Name string
	// Type is the SQLite column type: TEXT, INTEGER, REAL or DATE.
	Type string
}

// Feature is one row of a feature table. Values align with the layer's field
// list; a nil Geom writes a NULL geometry.
type Feature struct {
	Geom   orb.Geometry
	Values []any
}

// File is an open GeoPackage.
type File struct {
	db *sql.DB
}

// Create opens a GeoPackage for writing, creating the core metadata tables if
// they do not exist yet. An existing file gains layers rather than being
// truncated.
func Create(path string) (*File, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening geopackage %s: %w", path, err)
	}
	f := &File{db: db}
	if err := f.init(); err != nil {
		db.Close()
		return nil, err
	}
	return f, nil
}

// Open opens an existing GeoPackage for reading.
func Open(path string) (*File, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("opening geopackage %s: %w", path, err)
	}
	return &File{db: db}, nil
}

func (f *File) Close() error { return f.db.Close() }

func (f *File) init() error {
	statements := []string{
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
		"PRAGMA user_version = 10300",
		`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, stmt := range statements {
		if _, err := f.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialising geopackage: %w", err)
		}
	}

	srs := []struct {
		name    string
		id      int
		org     string
		orgID   int
		def     string
		comment string
	}{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", 4326, "EPSG", 4326,
			`GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`,
			"longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
		{"NZGD2000 / New Zealand Transverse Mercator 2000", SRIDNZTM, "EPSG", SRIDNZTM,
			`PROJCS["NZGD2000 / New Zealand Transverse Mercator 2000",GEOGCS["NZGD2000",DATUM["New_Zealand_Geodetic_Datum_2000",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",173],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",1600000],PARAMETER["false_northing",10000000],UNIT["metre",1]]`,
			""},
	}
	for _, s := range srs {
		_, err := f.db.Exec(
			`INSERT OR REPLACE INTO gpkg_spatial_ref_sys
			 (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.name, s.id, s.org, s.orgID, s.def, s.comment)
		if err != nil {
			return fmt.Errorf("registering srs %d: %w", s.id, err)
		}
	}
	return nil
}

// WriteLayer creates one feature table, writes its features, and registers it
// in the GeoPackage metadata. An existing layer of the same name is replaced.
func (f *File) WriteLayer(name, geometryType string, fields []Field, features []Feature) error {
	tx, err := f.db.Begin()
	if err != nil {
		return fmt.Errorf("writing layer %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
		return fmt.Errorf("replacing layer %s: %w", name, err)
	}
	create := fmt.Sprintf("CREATE TABLE %q (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB", name)
	for _, field := range fields {
		create += fmt.Sprintf(", %q %s", field.Name, field.Type)
	}
	create += ")"
	if _, err := tx.Exec(create); err != nil {
		return fmt.Errorf("creating layer %s: %w", name, err)
	}

	insert := fmt.Sprintf("INSERT INTO %q (geom", name)
	placeholders := "?"
	for _, field := range fields {
		insert += fmt.Sprintf(", %q", field.Name)
		placeholders += ", ?"
	}
	insert += ") VALUES (" + placeholders + ")"
	stmt, err := tx.Prepare(insert)
	if err != nil {
		return fmt.Errorf("preparing layer %s insert: %w", name, err)
	}
	defer stmt.Close()

	bound := emptyBound()
	for _, feature := range features {
		if len(feature.Values) != len(fields) {
			return fmt.Errorf("layer %s: feature has %d values, schema has %d fields", name, len(feature.Values), len(fields))
		}
		var blob any
		if feature.Geom != nil {
			encoded, err := EncodeGeometry(feature.Geom, SRIDNZTM)
			if err != nil {
				return fmt.Errorf("encoding geometry for layer %s: %w", name, err)
			}
			blob = encoded
			bound = bound.Union(feature.Geom.Bound())
		}
		args := append([]any{blob}, feature.Values...)
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("inserting into layer %s: %w", name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO gpkg_geometry_columns
		 (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, 'geom', ?, ?, 0, 0)`,
		name, geometryType, SRIDNZTM); err != nil {
		return fmt.Errorf("registering geometry column for %s: %w", name, err)
	}
	if err := registerContents(tx, name, "features", bound); err != nil {
		return fmt.Errorf("registering layer %s: %w", name, err)
	}
	return tx.Commit()
}

func registerContents(tx *sql.Tx, name, dataType string, bound orb.Bound) error {
	var minX, minY, maxX, maxY any
	if bound.Min[0] <= bound.Max[0] {
		minX, minY, maxX, maxY = bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]
	}
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO gpkg_contents
		 (table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, ?, ?, '', ?, ?, ?, ?, ?)`,
		name, dataType, name, minX, minY, maxX, maxY, SRIDNZTM)
	return err
}

func emptyBound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
}

// ReadLayer reads every feature of a layer, returning the requested attribute
// columns value-aligned with the field names.
func (f *File) ReadLayer(name string, fieldNames []string) ([]Feature, error) {
	query := "SELECT geom"
	for _, field := range fieldNames {
		query += fmt.Sprintf(", %q", field)
	}
	query += fmt.Sprintf(" FROM %q", name)

	rows, err := f.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("reading layer %s: %w", name, err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var blob []byte
		values := make([]any, len(fieldNames))
		scan := make([]any, 0, len(fieldNames)+1)
		scan = append(scan, &blob)
		for i := range values {
			scan = append(scan, &values[i])
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scanning layer %s: %w", name, err)
		}
		feature := Feature{Values: values}
		if len(blob) > 0 {
			geom, err := DecodeGeometry(blob)
			if err != nil {
				return nil, fmt.Errorf("decoding geometry in layer %s: %w", name, err)
			}
			feature.Geom = geom
		}
		features = append(features, feature)
	}
	return features, rows.Err()
}

// EncodeGeometry wraps a geometry's WKB in the GPKG binary header: the "GP"
// magic, version 0, a little-endian no-envelope flags byte, and the srs id.
func EncodeGeometry(geom orb.Geometry, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(geom)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 8)
	header[0] = 'G'
	header[1] = 'P'
	header[2] = 0
	header[3] = 0x01 // little-endian header, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(srsID))
	return append(header, body...), nil
}

// DecodeGeometry strips the GPKG binary header, whatever envelope size its
// flags declare, and unmarshals the WKB body.
func DecodeGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("not a GPKG geometry blob")
	}
	flags := blob[3]
	var envelopeSize int
	switch (flags >> 1) & 0x7 {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	case 2, 3:
		envelopeSize = 48
	case 4:
		envelopeSize = 64
	default:
		return nil, fmt.Errorf("invalid GPKG envelope indicator %d", (flags>>1)&0x7)
	}
	offset := 8 + envelopeSize
	if len(blob) < offset {
		return nil, fmt.Errorf("GPKG geometry blob shorter than its envelope")
	}
	return wkb.Unmarshal(blob[offset:])
}
