package gpkg

import (
	"sort"
	"time"

	"github.com/nz-facilities/internal/facility"
	"github.com/nz-facilities/internal/hospitals"
	"github.com/nz-facilities/internal/schools"
)

// FacilityFields is the schema of the register output layer.
var FacilityFields = []Field{
	{Name: "facility_id", Type: "INTEGER"},
	{Name: "source_facility_id", Type: "INTEGER"},
	{Name: "name", Type: "TEXT"},
	{Name: "source_name", Type: "TEXT"},
	{Name: "use", Type: "TEXT"},
	{Name: "use_type", Type: "TEXT"},
	{Name: "use_subtype", Type: "TEXT"},
	{Name: "estimated_occupancy", Type: "INTEGER"},
	{Name: "last_modified", Type: "DATE"},
	{Name: "change_action", Type: "TEXT"},
	{Name: "change_description", Type: "TEXT"},
	{Name: "comments", Type: "TEXT"},
	{Name: "sql", Type: "TEXT"},
}

// SchoolFields is the schema of the MOE schools output layer, mirroring the
// directory columns plus the classification annotations.
var SchoolFields = []Field{
	{Name: "School_Id", Type: "INTEGER"},
	{Name: "Org_Name", Type: "TEXT"},
	{Name: "Add1_Line1", Type: "TEXT"},
	{Name: "Add1_Suburb", Type: "TEXT"},
	{Name: "Add1_City", Type: "TEXT"},
	{Name: "Org_Type", Type: "TEXT"},
	{Name: "Roll_Date", Type: "DATE"},
	{Name: "Total", Type: "INTEGER"},
	{Name: "Latitude", Type: "REAL"},
	{Name: "Longitude", Type: "REAL"},
	{Name: "change_action", Type: "TEXT"},
	{Name: "change_description", Type: "TEXT"},
}

// FacilityFeatures converts annotated register records into features for the
// register output layer, ordered by source id.
func FacilityFeatures(register map[int]*facility.Facility) []Feature {
	ids := sortedKeys(register)
	features := make([]Feature, 0, len(register))
	for _, id := range ids {
		f := register[id]
		var lastModified any
		if f.LastModified != nil {
			lastModified = f.LastModified.Format("2006-01-02")
		}
		features = append(features, Feature{
			Geom: f.Geom,
			Values: []any{
				f.FacilityID,
				f.SourceID,
				f.Name,
				f.SourceName,
				f.Use,
				f.UseType,
				f.UseSubtype,
				intOrNil(f.Occupancy),
				lastModified,
				string(f.ChangeAction),
				f.ChangeDescription,
				f.Comments,
				f.SQL,
			},
		})
	}
	return features
}

// SchoolFeatures converts MOE school records into features for the schools
// output layer, with each record's classification from the comparison result.
func SchoolFeatures(records map[int]facility.ExternalRecord, actions map[int]facility.ChangeAction) []Feature {
	ids := sortedKeys(records)
	features := make([]Feature, 0, len(records))
	for _, id := range ids {
		s, ok := records[id].(*schools.School)
		if !ok {
			continue
		}
		action := s.ChangeAction
		if action == facility.ActionNone {
			action = actions[id]
		}
		features = append(features, Feature{
			Geom: s.Point,
			Values: []any{
				s.ID,
				s.Name,
				s.Address,
				s.Suburb,
				s.City,
				s.Type,
				s.RollDate,
				intOrNil(s.Roll),
				floatOrNil(s.Latitude),
				floatOrNil(s.Longitude),
				string(action),
				"",
			},
		})
	}
	return features
}

// HospitalFields is the schema of the MoH hospitals output layer.
var HospitalFields = []Field{
	{Name: "facility_code", Type: "INTEGER"},
	{Name: "name", Type: "TEXT"},
	{Name: "type", Type: "TEXT"},
	{Name: "address", Type: "TEXT"},
	{Name: "total_beds", Type: "INTEGER"},
	{Name: "change_action", Type: "TEXT"},
}

// HospitalFeatures converts MoH hospital records into features for the
// hospitals output layer.
func HospitalFeatures(records map[int]facility.ExternalRecord, actions map[int]facility.ChangeAction) []Feature {
	ids := sortedKeys(records)
	features := make([]Feature, 0, len(records))
	for _, id := range ids {
		h, ok := records[id].(*hospitals.Hospital)
		if !ok {
			continue
		}
		action := h.ChangeAction
		if action == facility.ActionNone {
			action = actions[id]
		}
		features = append(features, Feature{
			Geom: h.Point,
			Values: []any{
				h.ID,
				h.Name,
				h.Type,
				h.Address,
				intOrNil(h.Beds),
				string(action),
			},
		})
	}
	return features
}

// ReadFacilities loads register records from a layer written with
// FacilityFields, filtered to one facility use and keyed by source id.
func (f *File) ReadFacilities(layer, use string) (map[int]*facility.Facility, error) {
	fieldNames := []string{
		"facility_id", "source_facility_id", "name", "source_name",
		"use", "use_type", "use_subtype", "estimated_occupancy", "last_modified",
	}
	features, err := f.ReadLayer(layer, fieldNames)
	if err != nil {
		return nil, err
	}

	register := make(map[int]*facility.Facility, len(features))
	for _, feature := range features {
		if asString(feature.Values[4]) != use {
			continue
		}
		record := &facility.Facility{
			FacilityID: int(asInt(feature.Values[0])),
			SourceID:   int(asInt(feature.Values[1])),
			Name:       asString(feature.Values[2]),
			SourceName: asString(feature.Values[3]),
			Use:        asString(feature.Values[4]),
			UseType:    asString(feature.Values[5]),
			UseSubtype: asString(feature.Values[6]),
			Geom:       feature.Geom,
		}
		if feature.Values[7] != nil {
			occupancy := int(asInt(feature.Values[7]))
			record.Occupancy = &occupancy
		}
		if raw := asString(feature.Values[8]); raw != "" {
			if t, err := time.Parse("2006-01-02", raw); err == nil {
				record.LastModified = &t
			}
		}
		register[record.SourceID] = record
	}
	return register, nil
}

func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	}
	return ""
}

func asInt(v any) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	}
	return 0
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
