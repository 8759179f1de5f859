// Package hospitals loads public hospital records from the Ministry of Health
// published datasets and prepares them for comparison against the facilities
// register.
//
// Two datasets combine into one record set: the certified public hospitals
// CSV carries names and bed counts but no locations or stable ids, while the
// facility code table XLSX carries facility codes, types and NZTM
// coordinates. The two link on standardised facility name.
package hospitals

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/xuri/excelize/v2"

	"github.com/nz-facilities/internal/facility"
	"github.com/nz-facilities/internal/normalize"
)

const (
	PublicHospitalsURL  = "https://www.health.govt.nz/sites/default/files/prms/pst_csvs/LegalEntitySummaryPublicHospital.csv"
	FacilityCodeXLSXURL = "https://www.tewhatuora.govt.nz/assets/Our-health-system/Data-and-statistics/Common-code-tables/Facilities20240201.xlsx"

	// RequestTimeout bounds one download.
	RequestTimeout = 30 * time.Second
)

// Hospital is one public hospital, joined from the certification CSV and the
// facility code table.
type Hospital struct {
	// ID is the numeric facility code from the code table, the comparison
	// join key against the register's source id.
	ID      int
	Name    string
	Type    string
	Address string
	Beds    *int
	// Point is the facility location from the code table's NZTM columns,
	// nil when the table carries none.
	Point orb.Geometry

	ChangeAction facility.ChangeAction
}

func (h *Hospital) SourceID() int                 { return h.ID }
func (h *Hospital) SourceName() string            { return h.Name }
func (h *Hospital) SourceType() string            { return h.Type }
func (h *Hospital) Occupancy() *int               { return h.Beds }
func (h *Hospital) Geom() orb.Geometry            { return h.Point }
func (h *Hospital) Action() facility.ChangeAction { return h.ChangeAction }

// ParsePublicHospitalsCSV parses the MoH public hospitals CSV. The published
// file pads its header names with stray whitespace and terminates rows with
// trailing commas, so each line is trimmed of trailing commas and the header
// names are stripped before parsing.
func ParsePublicHospitalsCSV(text string) ([]map[string]string, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, ",")
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("public hospitals CSV is empty")
	}

	keys := strings.Split(lines[0], ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}

	var rows []map[string]string
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitCSVLine(line)
		row := make(map[string]string, len(keys))
		for i, key := range keys {
			if i < len(fields) {
				row[key] = fields[i]
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// splitCSVLine splits one CSV line honouring double-quoted fields.
func splitCSVLine(line string) []string {
	var fields []string
	var b strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				b.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == ',' && !inQuotes:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	fields = append(fields, b.String())
	return fields
}

// ParseFacilityCodeXLSX parses the facility code table workbook into header-
// keyed rows. The table is hand-maintained and has carried duplicate facility
// names; duplicates are returned so the caller can log them, with the last
// occurrence winning any name lookup built from the rows.
func ParseFacilityCodeXLSX(r io.Reader) (rows []map[string]string, duplicates []string, err error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("opening facility code workbook: %w", err)
	}
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	raw, err := wb.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("reading facility code sheet %q: %w", sheet, err)
	}
	if len(raw) < 1 {
		return nil, nil, fmt.Errorf("facility code sheet %q has no header row", sheet)
	}

	headers := raw[0]
	seen := make(map[string]bool)
	for _, cells := range raw[1:] {
		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(cells) {
				row[header] = cells[i]
			} else {
				row[header] = ""
			}
		}
		name := row["Name"]
		if name != "" {
			if seen[name] {
				duplicates = append(duplicates, name)
			}
			seen[name] = true
		}
		rows = append(rows, row)
	}
	return rows, duplicates, nil
}

// Build joins the public hospitals CSV rows to the facility code table on
// standardised name. Hospitals with no code table entry cannot be keyed and
// are returned separately as unmatched names.
func Build(csvRows, codeRows []map[string]string) (map[int]facility.ExternalRecord, []string, error) {
	codeByName := make(map[string]map[string]string, len(codeRows))
	for _, row := range codeRows {
		if name := row["Name"]; name != "" {
			codeByName[normalize.CorporateName(name)] = row
		}
	}

	hospitals := make(map[int]facility.ExternalRecord)
	var unmatched []string
	for _, row := range csvRows {
		name := strings.TrimSpace(row["Name"])
		if name == "" {
			continue
		}
		code, ok := codeByName[normalize.CorporateName(name)]
		if !ok {
			unmatched = append(unmatched, name)
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(code["Facility Code"]))
		if err != nil {
			return nil, nil, fmt.Errorf("facility %q has non-numeric facility code %q", name, code["Facility Code"])
		}
		h := &Hospital{
			ID:      id,
			Name:    name,
			Type:    code["Type"],
			Address: row["Address"],
		}
		if beds, err := strconv.Atoi(strings.TrimSpace(row["Total Beds"])); err == nil {
			h.Beds = &beds
		}
		if pt, ok := nztmPoint(code["NZTM Easting"], code["NZTM Northing"]); ok {
			h.Point = pt
		}
		hospitals[id] = h
	}
	return hospitals, unmatched, nil
}

func nztmPoint(easting, northing string) (orb.Point, bool) {
	e, err := strconv.ParseFloat(strings.TrimSpace(easting), 64)
	if err != nil {
		return orb.Point{}, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(northing), 64)
	if err != nil {
		return orb.Point{}, false
	}
	return orb.Point{e, n}, true
}

// FilterProposed flags hospitals whose name marks them as not yet open, the
// hospital-domain half of the pre-classification filter.
func FilterProposed(records map[int]facility.ExternalRecord, substring string) {
	if substring == "" {
		return
	}
	for _, record := range records {
		h, ok := record.(*Hospital)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(h.Name), strings.ToLower(substring)) {
			h.ChangeAction = facility.ActionIgnore
		}
	}
}

// Client downloads the two MoH datasets.
type Client struct {
	PublicHospitalsURL string
	FacilityCodeURL    string
	HTTPClient         *http.Client
}

func NewClient() *Client {
	return &Client{
		PublicHospitalsURL: PublicHospitalsURL,
		FacilityCodeURL:    FacilityCodeXLSXURL,
		HTTPClient:         &http.Client{Timeout: RequestTimeout},
	}
}

// Fetch downloads and joins both datasets.
func (c *Client) Fetch(ctx context.Context) (map[int]facility.ExternalRecord, []string, error) {
	csvBody, err := c.get(ctx, c.PublicHospitalsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading public hospitals CSV: %w", err)
	}
	csvRows, err := ParsePublicHospitalsCSV(string(csvBody))
	if err != nil {
		return nil, nil, err
	}

	xlsxBody, err := c.get(ctx, c.FacilityCodeURL)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading facility code table: %w", err)
	}
	codeRows, _, err := ParseFacilityCodeXLSX(strings.NewReader(string(xlsxBody)))
	if err != nil {
		return nil, nil, err
	}

	return Build(csvRows, codeRows)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
