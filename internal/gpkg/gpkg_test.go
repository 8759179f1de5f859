package gpkg

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

func TestEncodeDecodeGeometry(t *testing.T) {
	geoms := []orb.Geometry{
		orb.Point{1600000, 5400000},
		orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
		orb.MultiPolygon{
			{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
			{{{20, 0}, {30, 0}, {30, 10}, {20, 10}, {20, 0}}},
		},
	}
	for _, geom := range geoms {
		blob, err := EncodeGeometry(geom, SRIDNZTM)
		if err != nil {
			t.Fatalf("EncodeGeometry(%T) error: %v", geom, err)
		}
		if blob[0] != 'G' || blob[1] != 'P' {
			t.Fatalf("missing GP magic: % x", blob[:4])
		}
		decoded, err := DecodeGeometry(blob)
		if err != nil {
			t.Fatalf("DecodeGeometry(%T) error: %v", geom, err)
		}
		if !orb.Equal(decoded, geom) {
			t.Errorf("round trip of %T changed geometry", geom)
		}
	}
}

func TestDecodeGeometryRejectsGarbage(t *testing.T) {
	if _, err := DecodeGeometry([]byte("not a geometry")); err == nil {
		t.Error("DecodeGeometry() on garbage should fail")
	}
	if _, err := DecodeGeometry(nil); err == nil {
		t.Error("DecodeGeometry(nil) should fail")
	}
}

func TestWriteReadLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gpkg")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	fields := []Field{
		{Name: "source_id", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
	}
	features := []Feature{
		{Geom: orb.Point{1600000, 5400000}, Values: []any{7, "Kaikoura Primary"}},
		{Geom: nil, Values: []any{8, "No Location School"}},
	}
	if err := f.WriteLayer("test_layer", "POINT", fields, features); err != nil {
		t.Fatalf("WriteLayer() error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	in, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer in.Close()

	got, err := in.ReadLayer("test_layer", []string{"source_id", "name"})
	if err != nil {
		t.Fatalf("ReadLayer() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d features, want 2", len(got))
	}
	if got[0].Geom == nil {
		t.Error("first feature lost its geometry")
	} else if pt := got[0].Geom.(orb.Point); pt[0] != 1600000 || pt[1] != 5400000 {
		t.Errorf("first geometry = %v", pt)
	}
	if got[1].Geom != nil {
		t.Error("second feature should have nil geometry")
	}
	if name, _ := got[1].Values[1].(string); name != "No Location School" {
		t.Errorf("second name = %v", got[1].Values[1])
	}
}

func TestWriteLayerSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gpkg")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer f.Close()

	fields := []Field{{Name: "source_id", Type: "INTEGER"}}
	features := []Feature{{Values: []any{1, "extra"}}}
	if err := f.WriteLayer("bad", "POINT", fields, features); err == nil {
		t.Error("WriteLayer() with mismatched schema should fail")
	}
}

func TestAddStyles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gpkg")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer f.Close()

	styles := map[string]string{"nz_facilities": "<qgis></qgis>"}
	if err := f.AddStyles(styles); err != nil {
		t.Fatalf("AddStyles() error: %v", err)
	}

	var qml string
	err = f.db.QueryRow("SELECT styleQML FROM layer_styles WHERE f_table_name = 'nz_facilities'").Scan(&qml)
	if err != nil {
		t.Fatalf("querying layer_styles: %v", err)
	}
	if qml != "<qgis></qgis>" {
		t.Errorf("styleQML = %q", qml)
	}

	var dataType string
	err = f.db.QueryRow("SELECT data_type FROM gpkg_contents WHERE table_name = 'layer_styles'").Scan(&dataType)
	if err != nil {
		t.Fatalf("querying gpkg_contents: %v", err)
	}
	if dataType != "attributes" {
		t.Errorf("layer_styles data_type = %q", dataType)
	}

	// A second run against the existing table must not error.
	if err := f.AddStyles(styles); err != nil {
		t.Fatalf("AddStyles() second run error: %v", err)
	}
}
