package hospitals

import (
	"bytes"
	"testing"

	"github.com/paulmach/orb"
	"github.com/xuri/excelize/v2"

	"github.com/nz-facilities/internal/facility"
)

func TestParsePublicHospitalsCSV(t *testing.T) {
	// The published file pads header names and terminates rows with
	// trailing commas.
	text := "Name , Address ,Total Beds,,,\r\n" +
		"Christchurch Hospital,\"2 Riccarton Avenue, Christchurch\",650,,,\r\n" +
		"Grey Base Hospital,High Street,100,,,\r\n" +
		"\r\n"

	rows, err := ParsePublicHospitalsCSV(text)
	if err != nil {
		t.Fatalf("ParsePublicHospitalsCSV() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["Name"] != "Christchurch Hospital" {
		t.Errorf("Name = %q", rows[0]["Name"])
	}
	if rows[0]["Address"] != "2 Riccarton Avenue, Christchurch" {
		t.Errorf("quoted Address = %q", rows[0]["Address"])
	}
	if rows[1]["Total Beds"] != "100" {
		t.Errorf("Total Beds = %q", rows[1]["Total Beds"])
	}
}

func TestParsePublicHospitalsCSVEmpty(t *testing.T) {
	if _, err := ParsePublicHospitalsCSV(""); err == nil {
		t.Error("ParsePublicHospitalsCSV() on empty input should fail")
	}
}

func facilityCodeWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("building cell name: %v", err)
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("writing workbook row: %v", err)
		}
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialising workbook: %v", err)
	}
	return buf
}

func TestParseFacilityCodeXLSX(t *testing.T) {
	buf := facilityCodeWorkbook(t, [][]any{
		{"Facility Code", "Name", "Type", "NZTM Easting", "NZTM Northing"},
		{"1001", "Christchurch Hospital", "Public Hospital", "1569700", "5179110"},
		{"1002", "Grey Base Hospital", "Public Hospital", "", ""},
		{"1003", "Grey Base Hospital", "Public Hospital", "", ""},
	})

	rows, duplicates, err := ParseFacilityCodeXLSX(buf)
	if err != nil {
		t.Fatalf("ParseFacilityCodeXLSX() error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["Facility Code"] != "1001" || rows[0]["Name"] != "Christchurch Hospital" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if len(duplicates) != 1 || duplicates[0] != "Grey Base Hospital" {
		t.Errorf("duplicates = %v, want [Grey Base Hospital]", duplicates)
	}
}

func TestBuild(t *testing.T) {
	csvRows := []map[string]string{
		{"Name": "St. George's Hospital Ltd", "Address": "249 Papanui Road", "Total Beds": "110"},
		{"Name": "Unknown Clinic", "Total Beds": "5"},
	}
	// The code table spells the same hospital differently; the join works
	// through standardised names.
	codeRows := []map[string]string{
		{"Facility Code": "2001", "Name": "St George's Hospital Limited", "Type": "Private Hospital", "NZTM Easting": "1570200", "NZTM Northing": "5182400"},
	}

	hospitals, unmatched, err := Build(csvRows, codeRows)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(hospitals) != 1 {
		t.Fatalf("got %d hospitals, want 1", len(hospitals))
	}
	h := hospitals[2001].(*Hospital)
	if h.Name != "St. George's Hospital Ltd" || h.Type != "Private Hospital" {
		t.Errorf("hospital = %+v", h)
	}
	if h.Beds == nil || *h.Beds != 110 {
		t.Errorf("Beds = %v, want 110", h.Beds)
	}
	if h.Point == nil {
		t.Fatal("hospital should have a geometry")
	}
	if pt := h.Point.(orb.Point); pt[0] != 1570200 || pt[1] != 5182400 {
		t.Errorf("Point = %v", pt)
	}
	if len(unmatched) != 1 || unmatched[0] != "Unknown Clinic" {
		t.Errorf("unmatched = %v, want [Unknown Clinic]", unmatched)
	}
}

func TestBuildNonNumericCode(t *testing.T) {
	csvRows := []map[string]string{{"Name": "Hutt Hospital"}}
	codeRows := []map[string]string{{"Facility Code": "FZZ123", "Name": "Hutt Hospital"}}
	if _, _, err := Build(csvRows, codeRows); err == nil {
		t.Error("Build() with non-numeric facility code should fail")
	}
}

func TestFilterProposed(t *testing.T) {
	open := &Hospital{ID: 1, Name: "Dunedin Hospital"}
	planned := &Hospital{ID: 2, Name: "New Dunedin Hospital (Proposed)"}
	records := map[int]facility.ExternalRecord{1: open, 2: planned}

	FilterProposed(records, "proposed")

	if open.ChangeAction != facility.ActionNone {
		t.Errorf("open hospital action = %q, want none", open.ChangeAction)
	}
	if planned.ChangeAction != facility.ActionIgnore {
		t.Errorf("proposed hospital action = %q, want ignore", planned.ChangeAction)
	}
}
