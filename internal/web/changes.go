// Package web serves a reviewed change set over a read-only JSON API, for
// eyeballing a comparison run before its changes are staged and applied.
package web

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/nz-facilities/internal/facility"
)

// ChangeRecord is one classified record of a change set, flattened for
// review.
type ChangeRecord struct {
	Side              string                `json:"side"`
	SourceID          int                   `json:"source_id"`
	FacilityID        int                   `json:"facility_id,omitempty"`
	Name              string                `json:"name,omitempty"`
	SourceType        string                `json:"source_type,omitempty"`
	ChangeAction      facility.ChangeAction `json:"change_action"`
	ChangeDescription string                `json:"change_description,omitempty"`
	SQL               string                `json:"sql,omitempty"`
}

// ChangeSet is one comparison run's output, serialisable to disk.
type ChangeSet struct {
	Domain      string         `json:"domain"`
	GeneratedAt time.Time      `json:"generated_at"`
	Records     []ChangeRecord `json:"records"`
}

// BuildChangeSet flattens a classification result into a change set. Register
// records come first, then external records, each side ordered by source id.
func BuildChangeSet(result *facility.Result, external map[int]facility.ExternalRecord, domain string) *ChangeSet {
	cs := &ChangeSet{Domain: domain, GeneratedAt: time.Now().UTC()}

	registerIDs := make([]int, 0, len(result.Register))
	for id := range result.Register {
		registerIDs = append(registerIDs, id)
	}
	sort.Ints(registerIDs)
	for _, id := range registerIDs {
		f := result.Register[id]
		cs.Records = append(cs.Records, ChangeRecord{
			Side:              "register",
			SourceID:          f.SourceID,
			FacilityID:        f.FacilityID,
			Name:              f.SourceName,
			SourceType:        f.UseType,
			ChangeAction:      f.ChangeAction,
			ChangeDescription: f.ChangeDescription,
			SQL:               f.SQL,
		})
	}

	externalIDs := make([]int, 0, len(result.ExternalActions))
	for id := range result.ExternalActions {
		externalIDs = append(externalIDs, id)
	}
	sort.Ints(externalIDs)
	for _, id := range externalIDs {
		record := ChangeRecord{
			Side:         "external",
			SourceID:     id,
			ChangeAction: result.ExternalActions[id],
		}
		if ext, ok := external[id]; ok {
			record.Name = ext.SourceName()
			record.SourceType = ext.SourceType()
		}
		cs.Records = append(cs.Records, record)
	}
	return cs
}

// ByAction returns the records carrying one classification.
func (cs *ChangeSet) ByAction(action facility.ChangeAction) []ChangeRecord {
	var matched []ChangeRecord
	for _, record := range cs.Records {
		if record.ChangeAction == action {
			matched = append(matched, record)
		}
	}
	return matched
}

// Summary counts records per classification.
func (cs *ChangeSet) Summary() map[facility.ChangeAction]int {
	counts := make(map[facility.ChangeAction]int)
	for _, record := range cs.Records {
		counts[record.ChangeAction]++
	}
	return counts
}

// Save writes the change set as indented JSON.
func (cs *ChangeSet) Save(path string) error {
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding change set: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving change set: %w", err)
	}
	return nil
}

// LoadChangeSet reads a change set saved by Save.
func LoadChangeSet(path string) (*ChangeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading change set: %w", err)
	}
	var cs ChangeSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decoding change set %s: %w", path, err)
	}
	return &cs, nil
}
