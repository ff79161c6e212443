package providers

import (
	"io"
	"strings"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
	"activity-sync/internal/sessionizer"
)

const foxfordSystemCode = "13788b9a-3426-45b2-9ba5-d8cec8c03c0c"

// foxfordIDDepth is the number of slash segments that identify a course
// page; deeper paths address elements inside it.
const foxfordIDDepth = 5

// FoxFord handles the FoxFord platform export. Content ids are
// slash-delimited URLs truncated to a fixed depth before lookup, and its
// hierarchy dumps re-ship known nodes, so duplicates are tolerated when
// they re-affirm the stored parent.
type FoxFord struct{}

func (FoxFord) Name() string { return "foxford" }

func (FoxFord) Dump() sessionizer.DumpFormat {
	return sessionizer.DumpFormat{Delim: ',', HasHeader: true}
}

// Raw layout: systemcode, profile_id, created_at, statisticstypeid,
// status, educational_course_id.
func (f FoxFord) Normalize(fields []string) (domain.RawEvent, bool) {
	if len(fields) < 6 {
		return domain.RawEvent{}, false
	}
	profile := fields[1]
	content := f.CanonicalContentID(fields[5])
	if profile == "" || content == "" {
		return domain.RawEvent{}, false
	}
	created, ok := parseTime(fields[2], timeLayouts)
	if !ok {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{ProfileID: profile, ContentID: content, CreatedAt: created}, true
}

func (FoxFord) Session() sessionizer.Options {
	return sessionizer.Options{}
}

func (FoxFord) ParseHierarchy(r io.Reader) ([]domain.ContentNode, error) {
	index, rows, err := readTable(r, ',')
	if err != nil {
		return nil, err
	}
	var nodes []domain.ContentNode
	for _, row := range rows {
		id, _ := field(row, index, "externalId")
		parent, _ := field(row, index, "externalParentId")
		typeID, _ := field(row, index, "courseTypeId")
		name, _ := field(row, index, "courseName")
		deleted, _ := field(row, index, "deleted")
		nodes = append(nodes, domain.ContentNode{
			ID:           id,
			ParentID:     parent,
			CourseTypeID: typeID,
			CourseName:   name,
			SystemCode:   foxfordSystemCode,
			IsDeleted:    isDeleted(deleted),
		})
	}
	return nodes, nil
}

func (FoxFord) ResolverOptions(ref *refdata.RefData) hierarchy.Options {
	return hierarchy.Options{
		Duplicates: hierarchy.TolerateMatchingParent,
		// The slash trim runs first; ids it cannot place still get the
		// content-type tag retries shared with the other providers.
		Fallbacks:     []hierarchy.Fallback{foxfordTrimFallback(), contentTagFallback()},
		TypeLabel:     foxfordTypeLabel,
		ProviderName:  ref.ProviderShortName,
		ExpectedLabel: refdata.CourseTypeDigital,
	}
}

func (FoxFord) CanonicalContentID(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) <= foxfordIDDepth {
		return id
	}
	return strings.Join(parts[:foxfordIDDepth], "/")
}

// foxfordTypeLabel maps the platform's numeric content type codes.
func foxfordTypeLabel(typeID string) (string, bool) {
	switch typeID {
	case "0":
		return refdata.CourseTypeDigital, true
	case "2":
		return "Урок", true
	case "3":
		return "Задача", true
	}
	return "", false
}

// foxfordTrimFallback shortens a slash-delimited id by one trailing segment
// when the id belongs to the platform's URL space but is not in the tree.
func foxfordTrimFallback() hierarchy.Fallback {
	return func(id string, exists func(string) bool) (string, bool) {
		if !strings.Contains(id, "foxford") {
			return "", false
		}
		parts := strings.Split(id, "/")
		if len(parts) < 2 {
			return "", false
		}
		candidate := strings.Join(parts[:len(parts)-1], "/")
		if exists(candidate) {
			return candidate, true
		}
		return "", false
	}
}
