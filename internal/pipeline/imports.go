package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// mergeProviderCourseName builds the billing key that identifies a course
// across dumps: the provider short name joined to the course name. Course
// surrogate keys are allocated against this key.
func mergeProviderCourseName(provider, courseName string) string {
	return provider + "_" + courseName
}

type table struct {
	index map[string]int
	rows  [][]string
}

func (t table) field(row []string, name string) string {
	i, ok := t.index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readDumpTable(path string) (table, error) {
	f, err := os.Open(path)
	if err != nil {
		return table{}, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return table{}, fmt.Errorf("pipeline: read header %s: %w", path, err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	return table{index: index, rows: rows}, nil
}

// importBilling loads the billing reference: one row per (provider, course
// name) with price and approved count. This import is the only place that
// allocates course surrogate keys; structure imports later look them up.
func (m *Model) importBilling(path string) error {
	isNew, err := m.tracker.IsNewVersion(path)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	m.log.Info("importing billing info", "path", path)

	t, err := readDumpTable(path)
	if err != nil {
		return err
	}

	type billingRow struct {
		provider, courseName, key string
		price, approved           float64
	}
	seen := map[string]bool{}
	var rows []billingRow
	var keys []string
	for _, row := range t.rows {
		provider := t.field(row, "short_name")
		courseName := t.field(row, "course_name")
		if provider == "" || courseName == "" {
			m.sink.Drop(path, "course_name", row)
			continue
		}
		key := mergeProviderCourseName(provider, courseName)
		if seen[key] {
			continue
		}
		seen[key] = true

		price, _ := strconv.ParseFloat(t.field(row, "price"), 64)
		approved, _ := strconv.ParseFloat(t.field(row, "approved"), 64)
		rows = append(rows, billingRow{provider: provider, courseName: courseName, key: key, price: price, approved: approved})
		keys = append(keys, key)
	}

	if err := m.courses.BulkRegister(keys); err != nil {
		return err
	}

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS billing_info"); err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE billing_info (
		course_id INT PRIMARY KEY,
		provider TEXT NOT NULL,
		course_name TEXT NOT NULL,
		provider_course_name TEXT UNIQUE NOT NULL,
		price REAL NOT NULL,
		approved REAL NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, r := range rows {
		courseID, ok := m.courses.Get(r.key)
		if !ok {
			return fmt.Errorf("pipeline: course key %q missing after registration", r.key)
		}
		_, err := tx.Exec(
			"INSERT INTO billing_info (course_id, provider, course_name, provider_course_name, price, approved) VALUES (?, ?, ?, ?, ?, ?)",
			courseID, r.provider, r.courseName, r.key, r.price, r.approved,
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return m.tracker.MarkProcessed(path)
}

// importInstitutions loads the institution roster and allocates institution
// surrogates.
func (m *Model) importInstitutions(path string) error {
	isNew, err := m.tracker.IsNewVersion(path)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	m.log.Info("importing educational institutions", "path", path)

	t, err := readDumpTable(path)
	if err != nil {
		return err
	}

	var ids []string
	for _, row := range t.rows {
		id := t.field(row, "id")
		if id == "" {
			m.sink.Drop(path, "educational_institution_id", row)
			continue
		}
		ids = append(ids, id)
	}
	if err := m.institutions.BulkRegister(ids); err != nil {
		return err
	}

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS educational_institution"); err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE educational_institution (
		educational_institution_id INT PRIMARY KEY,
		educational_institution_id_uuid TEXT UNIQUE NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, id := range ids {
		key, ok := m.institutions.Get(id)
		if !ok {
			return fmt.Errorf("pipeline: institution %q missing after registration", id)
		}
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO educational_institution (educational_institution_id, educational_institution_id_uuid) VALUES (?, ?)",
			key, id,
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return m.tracker.MarkProcessed(path)
}

// importProfiles loads the profile approval roster. Profile ids are
// provider-issued UUIDs; malformed ones are dropped, not fatal. Institution
// references are lookup-only: a profile pointing at an unknown institution
// is dropped with a recorded reason.
func (m *Model) importProfiles(path string) error {
	isNew, err := m.tracker.IsNewVersion(path)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	m.log.Info("importing profiles", "path", path)

	t, err := readDumpTable(path)
	if err != nil {
		return err
	}

	var ids []string
	for _, row := range t.rows {
		id := t.field(row, "profile_id")
		if uuid.Validate(id) != nil {
			m.sink.Drop(path, "profile_id", row)
			continue
		}
		ids = append(ids, id)
	}
	if err := m.profiles.BulkRegister(ids); err != nil {
		return err
	}

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS profile_approved_status"); err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE profile_approved_status (
		profile_id INT PRIMARY KEY,
		profile_id_uuid TEXT UNIQUE NOT NULL,
		approved_status TEXT,
		role TEXT,
		educational_institution_id INT NOT NULL,
		is_deleted INT NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, row := range t.rows {
		id := t.field(row, "profile_id")
		profileKey, ok := m.profiles.Get(id)
		if !ok {
			continue // dropped above
		}
		institutionKey, ok := m.institutions.Get(t.field(row, "educational_institution_id"))
		if !ok {
			m.sink.Drop(path, "educational_institution_id", row)
			continue
		}
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO profile_approved_status (profile_id, profile_id_uuid, approved_status, role, educational_institution_id, is_deleted) VALUES (?, ?, ?, ?, ?, ?)",
			profileKey, id,
			t.field(row, "approved_status"),
			t.field(row, "role"),
			institutionKey,
			boolToInt(t.field(row, "is_deleted") == "t"),
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return m.tracker.MarkProcessed(path)
}

// importGrades loads student grades. Profile references are lookup-only.
func (m *Model) importGrades(path string) error {
	isNew, err := m.tracker.IsNewVersion(path)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	m.log.Info("importing student grades", "path", path)

	t, err := readDumpTable(path)
	if err != nil {
		return err
	}

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS student_grades"); err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE student_grades (
		profile_id INT PRIMARY KEY,
		grade INT,
		is_deleted INT NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, row := range t.rows {
		id := t.field(row, "id")
		profileKey, ok := m.profiles.Get(id)
		if !ok {
			m.sink.Drop(path, "profile_id", row)
			continue
		}
		grade, err := strconv.Atoi(t.field(row, "grade"))
		if err != nil {
			m.sink.Drop(path, "grade", row)
			continue
		}
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO student_grades (profile_id, grade, is_deleted) VALUES (?, ?, ?)",
			profileKey, grade, boolToInt(t.field(row, "is_deleted") == "t"),
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return m.tracker.MarkProcessed(path)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
