package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nz-facilities/internal/facility"
)

func testChangeSet() *ChangeSet {
	return &ChangeSet{
		Domain: "schools",
		Records: []ChangeRecord{
			{Side: "register", SourceID: 1, FacilityID: 10, Name: "Unchanged School"},
			{Side: "register", SourceID: 2, FacilityID: 11, Name: "Renamed School",
				ChangeAction: facility.ActionUpdateAttr, ChangeDescription: "Attrs: source_name"},
			{Side: "register", SourceID: 3, FacilityID: 12, Name: "Closed School",
				ChangeAction: facility.ActionRemove},
			{Side: "external", SourceID: 4, Name: "New School", ChangeAction: facility.ActionAdd},
		},
	}
}

func TestBuildChangeSet(t *testing.T) {
	result := &facility.Result{
		Register: map[int]*facility.Facility{
			2: {FacilityID: 11, SourceID: 2, SourceName: "Renamed School", ChangeAction: facility.ActionUpdateAttr},
			1: {FacilityID: 10, SourceID: 1, SourceName: "Unchanged School"},
		},
		ExternalActions: map[int]facility.ChangeAction{
			4: facility.ActionAdd,
		},
	}

	cs := BuildChangeSet(result, nil, "schools")
	if len(cs.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(cs.Records))
	}
	// Register side first, ordered by source id.
	if cs.Records[0].SourceID != 1 || cs.Records[1].SourceID != 2 {
		t.Errorf("register ordering = %d, %d", cs.Records[0].SourceID, cs.Records[1].SourceID)
	}
	if cs.Records[2].Side != "external" || cs.Records[2].ChangeAction != facility.ActionAdd {
		t.Errorf("external record = %+v", cs.Records[2])
	}
}

func TestChangeSetSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.json")
	cs := testChangeSet()
	if err := cs.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := LoadChangeSet(path)
	if err != nil {
		t.Fatalf("LoadChangeSet() error: %v", err)
	}
	if loaded.Domain != "schools" || len(loaded.Records) != len(cs.Records) {
		t.Errorf("loaded = %s with %d records", loaded.Domain, len(loaded.Records))
	}
}

func TestServerEndpoints(t *testing.T) {
	server := NewServer(":0", testChangeSet())
	ts := httptest.NewServer(server.router)
	defer ts.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health error: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decoding health response: %v", err)
		}
		if body["status"] != "ok" || body["domain"] != "schools" {
			t.Errorf("health = %v", body)
		}
	})

	t.Run("all changes", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/changes")
		if err != nil {
			t.Fatalf("GET /api/changes error: %v", err)
		}
		defer resp.Body.Close()
		var cs ChangeSet
		if err := json.NewDecoder(resp.Body).Decode(&cs); err != nil {
			t.Fatalf("decoding changes: %v", err)
		}
		if len(cs.Records) != 4 {
			t.Errorf("got %d records, want 4", len(cs.Records))
		}
	})

	t.Run("changes by action", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/changes/update_attr")
		if err != nil {
			t.Fatalf("GET /api/changes/update_attr error: %v", err)
		}
		defer resp.Body.Close()
		var records []ChangeRecord
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			t.Fatalf("decoding records: %v", err)
		}
		if len(records) != 1 || records[0].Name != "Renamed School" {
			t.Errorf("update_attr records = %v", records)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/changes/demolish")
		if err != nil {
			t.Fatalf("GET /api/changes/demolish error: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("summary", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/summary")
		if err != nil {
			t.Fatalf("GET /api/summary error: %v", err)
		}
		defer resp.Body.Close()
		var counts map[string]int
		if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
			t.Fatalf("decoding summary: %v", err)
		}
		if counts["add"] != 1 || counts["remove"] != 1 || counts["update_attr"] != 1 {
			t.Errorf("summary = %v", counts)
		}
	})
}
