// Package schools loads school records from the Ministry of Education schools
// directory API and prepares them for comparison against the facilities
// register.
package schools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/paulmach/orb"

	"github.com/nz-facilities/internal/facility"
	"github.com/nz-facilities/internal/geometry"
)

// MOEEndpoint is the CKAN datastore SQL endpoint of the NZ open data
// catalogue which hosts the MOE schools directory.
const MOEEndpoint = "https://catalogue.data.govt.nz/api/3/action/datastore_search_sql"

// RequestTimeout bounds one API request.
const RequestTimeout = 10 * time.Second

// moeSQL selects the directory columns we consume, keyed by School_Id.
const moeSQL = `
SELECT
    "School_Id",
    "Org_Name",
    "Add1_Line1",
    "Add1_Suburb",
    "Add1_City",
    "Org_Type",
    "Latitude",
    "Longitude",
    "Roll_Date",
    "Total"
FROM "20b7c271-fd5a-4c9e-869b-481a0e2453cd"
ORDER BY "School_Id"
`

// School is one school record from the MOE directory.
type School struct {
	ID       int
	Name     string
	Type     string
	Address  string
	Suburb   string
	City     string
	RollDate string
	Roll     *int
	// Latitude and Longitude are the raw directory coordinates, kept for
	// output layers; Point is the same location reprojected to NZTM, nil
	// when the directory carries no coordinates for the school.
	Latitude  *float64
	Longitude *float64
	Point     orb.Geometry

	ChangeAction facility.ChangeAction
}

// School satisfies the comparison record interface.
func (s *School) SourceID() int                 { return s.ID }
func (s *School) SourceName() string            { return s.Name }
func (s *School) SourceType() string            { return s.Type }
func (s *School) Occupancy() *int               { return s.Roll }
func (s *School) Geom() orb.Geometry            { return s.Point }
func (s *School) Action() facility.ChangeAction { return s.ChangeAction }

// Client fetches school records from the MOE API.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient returns a client against the production endpoint.
func NewClient() *Client {
	return &Client{
		Endpoint:   MOEEndpoint,
		HTTPClient: &http.Client{Timeout: RequestTimeout},
	}
}

// Fetch requests the full schools directory from the API. When savePath is
// non-empty the raw response body is also written there, so a later run can
// replay it with Load instead of hitting the API.
func (c *Client) Fetch(ctx context.Context, savePath string) (map[int]facility.ExternalRecord, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing MOE endpoint: %w", err)
	}
	q := u.Query()
	q.Set("sql", moeSQL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building MOE request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting MOE API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MOE API returned status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading MOE response: %w", err)
	}
	if savePath != "" {
		if err := os.WriteFile(savePath, body, 0o644); err != nil {
			return nil, fmt.Errorf("saving MOE response: %w", err)
		}
	}
	return ParseResponse(body)
}

// Load replays a previously saved API response from disk.
func Load(path string) (map[int]facility.ExternalRecord, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading saved MOE response: %w", err)
	}
	return ParseResponse(body)
}

// moeResponse mirrors the CKAN datastore envelope. Field values arrive with
// mixed types (numbers, strings, nulls) so records decode loosely.
type moeResponse struct {
	Result struct {
		Records []map[string]any `json:"records"`
	} `json:"result"`
}

// ParseResponse decodes an API response body into school records keyed by
// school id. Records without coordinates keep a nil geometry.
func ParseResponse(body []byte) (map[int]facility.ExternalRecord, error) {
	var envelope moeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding MOE response: %w", err)
	}

	out := make(map[int]facility.ExternalRecord, len(envelope.Result.Records))
	for _, record := range envelope.Result.Records {
		id, ok := intField(record, "School_Id")
		if !ok {
			return nil, fmt.Errorf("MOE record missing School_Id: %v", record)
		}
		school := &School{
			ID:       id,
			Name:     stringField(record, "Org_Name"),
			Type:     stringField(record, "Org_Type"),
			Address:  stringField(record, "Add1_Line1"),
			Suburb:   stringField(record, "Add1_Suburb"),
			City:     stringField(record, "Add1_City"),
			RollDate: stringField(record, "Roll_Date"),
		}
		if roll, ok := intField(record, "Total"); ok {
			school.Roll = &roll
		}
		lat, latOK := floatField(record, "Latitude")
		lon, lonOK := floatField(record, "Longitude")
		if latOK {
			school.Latitude = &lat
		}
		if lonOK {
			school.Longitude = &lon
		}
		if latOK && lonOK {
			school.Point = geometry.LatLonToNZTM(lat, lon)
		}
		out[school.ID] = school
	}
	return out, nil
}

func stringField(record map[string]any, key string) string {
	switch v := record[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func intField(record map[string]any, key string) (int, bool) {
	switch v := record[key].(type) {
	case float64:
		return int(v), true
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatField(record map[string]any, key string) (float64, bool) {
	switch v := record[key].(type) {
	case float64:
		return v, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
