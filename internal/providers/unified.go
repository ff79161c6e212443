package providers

import (
	"io"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
	"activity-sync/internal/sessionizer"
)

// unifiedSystemCodes is the fixed set of platform codes whose content rows
// belong to the unified feed. Rows with any other code are someone else's
// partial export and are skipped.
var unifiedSystemCodes = map[string]bool{
	"0b37f22e-c46c-4d53-b0e7-8bdaaf51a8d0": true,
	"3a4b37c1-1f7d-4cb9-b144-e24c708d9c20": true,
	"d2735d92-6ad6-49c4-9b36-c3b16cee695d": true,
	"13788b9a-3426-45b2-9ba5-d8cec8c03c0c": true,
	"61dbfd85-2f0b-49eb-ad60-343cc5f12a36": true,
	"1d258153-7d01-4ed7-9035-3f9df9cf578f": true,
	"f1e908c8-7d15-11ec-90d6-0242ac120003": true,
	"2ca72c8e-8594-11ec-a8a3-0242ac120002": true,
}

// Unified handles the consolidated feed that aggregates several platforms
// into one export with the canonical column layout.
type Unified struct{}

func (Unified) Name() string { return "unified" }

func (Unified) Dump() sessionizer.DumpFormat {
	return sessionizer.DumpFormat{Delim: ',', HasHeader: true}
}

// Raw layout: id, profile_id, statistic_type_id, created_at, status,
// educational_course_id, updated_at.
func (Unified) Normalize(fields []string) (domain.RawEvent, bool) {
	if len(fields) < 6 {
		return domain.RawEvent{}, false
	}
	profile := fields[1]
	content := fields[5]
	if profile == "" || content == "" {
		return domain.RawEvent{}, false
	}
	created, ok := parseTime(fields[3], timeLayouts)
	if !ok {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{ProfileID: profile, ContentID: content, CreatedAt: created}, true
}

func (Unified) Session() sessionizer.Options {
	return sessionizer.Options{}
}

func (Unified) ParseHierarchy(r io.Reader) ([]domain.ContentNode, error) {
	index, rows, err := readTable(r, ',')
	if err != nil {
		return nil, err
	}
	var nodes []domain.ContentNode
	for _, row := range rows {
		systemCode, _ := field(row, index, "system_code")
		if !unifiedSystemCodes[systemCode] {
			continue
		}
		id, _ := field(row, index, "id")
		parent, _ := field(row, index, "parent_id")
		typeID, _ := field(row, index, "course_type_id")
		name, _ := field(row, index, "course_name")
		deleted, _ := field(row, index, "deleted")
		nodes = append(nodes, domain.ContentNode{
			ID:           id,
			ParentID:     parent,
			CourseTypeID: typeID,
			CourseName:   name,
			SystemCode:   systemCode,
			IsDeleted:    isDeleted(deleted),
		})
	}
	return nodes, nil
}

func (Unified) ResolverOptions(ref *refdata.RefData) hierarchy.Options {
	return hierarchy.Options{
		Duplicates:    hierarchy.RejectDuplicates,
		Fallbacks:     []hierarchy.Fallback{contentTagFallback()},
		TypeLabel:     ref.CourseTypeLabel,
		ProviderName:  ref.ProviderShortName,
		ExpectedLabel: refdata.CourseTypeDigital,
	}
}

func (Unified) CanonicalContentID(id string) string { return id }

// contentTagFallback retries a missing content id with each content-type
// tag prepended; some platforms export activity ids without the tag the
// hierarchy rows carry.
func contentTagFallback() hierarchy.Fallback {
	return hierarchy.PrefixFallback("Lesson_", "Chapter_", "Topic_", "Course_")
}
