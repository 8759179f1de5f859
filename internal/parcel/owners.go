package parcel

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/nz-facilities/internal/normalize"
)

// ownersColumns are the columns read from the NZ Property Titles Owners List
// CSV. The owners list separates individual owners (natural persons, as name
// parts) from corporate owners (trusts, companies, government entities), which
// lets each kind standardise its own way.
var ownersColumns = []string{
	"title_no",
	"prime_surname",
	"prime_other_names",
	"corporate_name",
	"name_suffix",
}

// ReadOwnersCSV parses the owners list into a title-number lookup. An owner is
// individual when any of its name-part columns is populated; the parts join
// into one name string. Otherwise the corporate name is used as-is. Rows with
// no name at all are kept as empty owners so the join mirrors the source
// table.
func ReadOwnersCSV(r io.Reader) (map[string][]Owner, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading owners header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range ownersColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("owners file missing column %q", name)
		}
	}

	field := func(record []string, name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	owners := make(map[string][]Owner)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading owners row: %w", err)
		}
		titleNo := strings.TrimSpace(field(record, "title_no"))
		if titleNo == "" {
			continue
		}
		individual := strings.TrimSpace(field(record, "prime_other_names") + " " +
			field(record, "prime_surname") + " " + field(record, "name_suffix"))
		owner := Owner{Name: individual}
		if individual == "" {
			owner = Owner{Name: field(record, "corporate_name"), Corporate: true}
		}
		owners[titleNo] = append(owners[titleNo], owner)
	}
	return owners, nil
}

// standardiseOwner applies the owner-kind-specific name standardisation.
func standardiseOwner(o Owner) string {
	if o.Corporate {
		return normalize.CorporateName(o.Name)
	}
	return normalize.IndividualName(o.Name)
}
