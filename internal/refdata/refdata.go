// Package refdata loads the small static reference tables consulted by the
// hierarchy resolver: the system-code → provider short name table and the
// course-type-code → label table.
package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// CourseTypeDigital is the label for verified digital content. Resolution
// of a root content node must always yield this label; anything else is an
// integrity error in the source dump.
const CourseTypeDigital = "ЦОМ"

// RefData holds both lookup tables in memory for the lifetime of one run.
type RefData struct {
	systemShortNames map[string]string
	courseTypes      map[string]string
}

// LoadExternalSystems reads the system_code,short_name table. System codes
// are provider-issued UUIDs; malformed codes are rejected so a corrupt dump
// fails at load rather than producing unresolvable providers later.
func LoadExternalSystems(path string) (map[string]string, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("refdata: %s: short row %v", path, row)
		}
		if err := uuid.Validate(row[0]); err != nil {
			return nil, fmt.Errorf("refdata: %s: invalid system code %q: %w", path, row[0], err)
		}
		out[row[0]] = row[1]
	}
	return out, nil
}

// LoadCourseTypes reads the id,type_name table.
func LoadCourseTypes(path string) (map[string]string, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("refdata: %s: short row %v", path, row)
		}
		out[row[0]] = row[1]
	}
	return out, nil
}

func Load(externalSystemPath, courseTypesPath string) (*RefData, error) {
	systems, err := LoadExternalSystems(externalSystemPath)
	if err != nil {
		return nil, err
	}
	types, err := LoadCourseTypes(courseTypesPath)
	if err != nil {
		return nil, err
	}
	return &RefData{systemShortNames: systems, courseTypes: types}, nil
}

// ProviderShortName resolves a system code to the provider label used in
// billing keys and fact tables.
func (r *RefData) ProviderShortName(systemCode string) (string, bool) {
	name, ok := r.systemShortNames[systemCode]
	return name, ok
}

// CourseTypeLabel resolves a course type code from the shared table.
// Providers with hard-coded numeric codes override this in their adapter.
func (r *RefData) CourseTypeLabel(typeID string) (string, bool) {
	label, ok := r.courseTypes[typeID]
	return label, ok
}

// readCSV reads all records, skipping the header row.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("refdata: read header %s: %w", path, err)
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}
	return rows, nil
}
