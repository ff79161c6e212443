// Package providers holds the four activity adapters, one per external
// learning platform. Each adapter knows its raw dump layout, how to
// normalize one record into the canonical (profile, content, timestamp)
// triple, and how its content hierarchy dump maps onto the shared tree
// shape. The set is closed: the pipeline targets exactly these shapes.
package providers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
	"activity-sync/internal/sessionizer"
)

// ActivityAdapter is the shared contract for the four provider variants.
type ActivityAdapter interface {
	Name() string

	// Dump describes the raw activity dump layout.
	Dump() sessionizer.DumpFormat

	// Normalize converts one raw record into an event. ok is false when the
	// person id, content id or timestamp cannot be produced; such records
	// are dropped and counted, never fatal.
	Normalize(fields []string) (domain.RawEvent, bool)

	// Session returns the sessionization options for this provider.
	Session() sessionizer.Options

	// ParseHierarchy reads the provider's content hierarchy dump into the
	// shared node shape, applying column remaps and system-code filters.
	ParseHierarchy(r io.Reader) ([]domain.ContentNode, error)

	// ResolverOptions configures tree resolution: duplicate policy,
	// fallback id matching and course-type labels.
	ResolverOptions(ref *refdata.RefData) hierarchy.Options

	// CanonicalContentID rewrites a raw content id into the form stored in
	// the hierarchy, e.g. truncating slash-delimited ids to a fixed depth.
	CanonicalContentID(id string) string
}

// All returns the adapters in their fixed import order.
func All() []ActivityAdapter {
	return []ActivityAdapter{
		Unified{},
		FoxFord{},
		MEO{},
		Uchi{},
	}
}

// ByName selects one adapter.
func ByName(name string) (ActivityAdapter, error) {
	for _, a := range All() {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("providers: unknown provider %q", name)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

func parseTime(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// readTable reads a headered CSV into a column index plus rows.
func readTable(r io.Reader, delim rune) (map[string]int, [][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("providers: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("providers: read rows: %w", err)
	}
	return index, rows, nil
}

func field(row []string, index map[string]int, name string) (string, bool) {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

// isDeleted normalizes the boolean export convention used by the upstream
// dumps, where deletion flags arrive as "t" / "f".
func isDeleted(v string) bool {
	return v == "t" || v == "true" || v == "1"
}
