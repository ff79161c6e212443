package providers

import (
	"io"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
	"activity-sync/internal/sessionizer"
)

const uchiSystemCode = "d2735d92-6ad6-49c4-9b36-c3b16cee695d"

// Uchi handles the Uchi platform export. Its hierarchy dump carries both a
// native row id and the external id; only the external pair identifies the
// tree, and rows from other platforms sharing the export are filtered by
// system code.
type Uchi struct{}

func (Uchi) Name() string { return "uchi" }

func (Uchi) Dump() sessionizer.DumpFormat {
	return sessionizer.DumpFormat{Delim: ',', HasHeader: true}
}

// Raw layout: statisticsTypeId, educational_course_id, created_at,
// externalUserId, profile_id.
func (Uchi) Normalize(fields []string) (domain.RawEvent, bool) {
	if len(fields) < 5 {
		return domain.RawEvent{}, false
	}
	profile := fields[4]
	content := fields[1]
	if profile == "" || content == "" {
		return domain.RawEvent{}, false
	}
	created, ok := parseTime(fields[2], timeLayouts)
	if !ok {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{ProfileID: profile, ContentID: content, CreatedAt: created}, true
}

func (Uchi) Session() sessionizer.Options {
	return sessionizer.Options{}
}

func (Uchi) ParseHierarchy(r io.Reader) ([]domain.ContentNode, error) {
	index, rows, err := readTable(r, ',')
	if err != nil {
		return nil, err
	}
	var nodes []domain.ContentNode
	for _, row := range rows {
		systemCode, _ := field(row, index, "system_code")
		if systemCode != uchiSystemCode {
			continue
		}
		id, _ := field(row, index, "external_id")
		parent, _ := field(row, index, "external_parent_id")
		typeID, _ := field(row, index, "courseTypeId")
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

func (Uchi) ResolverOptions(ref *refdata.RefData) hierarchy.Options {
	return hierarchy.Options{
		Duplicates:    hierarchy.RejectDuplicates,
		Fallbacks:     []hierarchy.Fallback{contentTagFallback()},
		TypeLabel:     ref.CourseTypeLabel,
		ProviderName:  ref.ProviderShortName,
		ExpectedLabel: refdata.CourseTypeDigital,
	}
}

func (Uchi) CanonicalContentID(id string) string { return id }
