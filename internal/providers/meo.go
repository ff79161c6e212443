package providers

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
	"activity-sync/internal/sessionizer"
)

const meoSystemCode = "61dbfd85-2f0b-49eb-ad60-343cc5f12a36"

var meoTimeLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MEO handles the MEO platform export. Its dumps are already aggregated per
// day (each row carries a dwell time), so rows bypass the gap scan and map
// one-to-one onto session rows. Its catalog is flat: every material is its
// own root.
type MEO struct{}

func (MEO) Name() string { return "meo" }

func (MEO) Dump() sessionizer.DumpFormat {
	return sessionizer.DumpFormat{Delim: ';', HasHeader: true}
}

// Raw layout: profile_id; educational_course_id; date; dt, where dt is a
// dwell time formatted as hours:minutes.
func (MEO) Normalize(fields []string) (domain.RawEvent, bool) {
	if len(fields) < 4 {
		return domain.RawEvent{}, false
	}
	profile := strings.TrimSpace(fields[0])
	content := strings.TrimSpace(fields[1])
	if profile == "" || content == "" {
		return domain.RawEvent{}, false
	}
	created, ok := parseTime(fields[2], meoTimeLayouts)
	if !ok {
		return domain.RawEvent{}, false
	}
	duration, err := parseHoursMinutes(fields[3])
	if err != nil {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{
		ProfileID: profile,
		ContentID: content,
		CreatedAt: created,
		Duration:  duration,
	}, true
}

func (MEO) Session() sessionizer.Options {
	return sessionizer.Options{Presessionized: true}
}

func (MEO) ParseHierarchy(r io.Reader) ([]domain.ContentNode, error) {
	index, rows, err := readTable(r, ',')
	if err != nil {
		return nil, err
	}
	var nodes []domain.ContentNode
	for _, row := range rows {
		id, _ := field(row, index, "material_id")
		name, _ := field(row, index, "course_name")
		deleted, _ := field(row, index, "deleted")
		nodes = append(nodes, domain.ContentNode{
			ID:         id,
			CourseName: name,
			SystemCode: meoSystemCode,
			IsDeleted:  isDeleted(deleted),
		})
	}
	return nodes, nil
}

func (MEO) ResolverOptions(ref *refdata.RefData) hierarchy.Options {
	return hierarchy.Options{
		Duplicates: hierarchy.RejectDuplicates,
		// Flat catalog of digital materials; no per-node type codes ship in
		// the dump.
		TypeLabel: func(string) (string, bool) {
			return refdata.CourseTypeDigital, true
		},
		ProviderName:  ref.ProviderShortName,
		ExpectedLabel: refdata.CourseTypeDigital,
	}
}

func (MEO) CanonicalContentID(id string) string { return id }

// parseHoursMinutes converts "H:MM" into seconds.
func parseHoursMinutes(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("providers: bad duration %q", s)
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("providers: bad duration %q: %w", s, err)
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("providers: bad duration %q: %w", s, err)
	}
	return hours*3600 + minutes*60, nil
}
