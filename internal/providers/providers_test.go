package providers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/refdata"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"unified", "foxford", "meo", "uchi"} {
		a, err := ByName(name)
		if err != nil {
			t.Fatalf("Expected adapter for %q, got %v", name, err)
		}
		if a.Name() != name {
			t.Errorf("Expected name %q, got %q", name, a.Name())
		}
	}
	if _, err := ByName("stepik"); err == nil {
		t.Error("Expected an error for an unknown provider")
	}
}

func TestUnifiedNormalize(t *testing.T) {
	// id, profile_id, statistic_type_id, created_at, status, educational_course_id, updated_at
	fields := []string{"1", "p1", "7", "2026-01-10 10:00:00", "ok", "c1", "2026-01-10 10:00:01"}
	ev, ok := Unified{}.Normalize(fields)
	if !ok {
		t.Fatal("Expected record to normalize")
	}
	if ev.ProfileID != "p1" || ev.ContentID != "c1" {
		t.Errorf("Expected (p1, c1), got (%s, %s)", ev.ProfileID, ev.ContentID)
	}
	if ev.CreatedAt.Format("2006-01-02 15:04:05") != "2026-01-10 10:00:00" {
		t.Errorf("Unexpected timestamp %v", ev.CreatedAt)
	}

	// Missing content id drops the record.
	fields[5] = ""
	if _, ok := (Unified{}).Normalize(fields); ok {
		t.Error("Expected record without content id to be dropped")
	}
	// Unparseable timestamp drops the record.
	if _, ok := (Unified{}).Normalize([]string{"1", "p1", "7", "not-a-time", "ok", "c1"}); ok {
		t.Error("Expected record with bad timestamp to be dropped")
	}
	// Short rows drop.
	if _, ok := (Unified{}).Normalize([]string{"1", "p1"}); ok {
		t.Error("Expected short record to be dropped")
	}
}

func TestFoxFordNormalizeTruncatesContentID(t *testing.T) {
	// systemcode, profile_id, created_at, statisticstypeid, status, educational_course_id
	long := "https:/foxford.ru/courses/100/lessons/5/tasks/9"
	fields := []string{"sys", "p1", "2026-01-10 10:00:00", "7", "ok", long}
	ev, ok := FoxFord{}.Normalize(fields)
	if !ok {
		t.Fatal("Expected record to normalize")
	}
	if strings.Count(ev.ContentID, "/") != 4 {
		t.Errorf("Expected content id truncated to 5 segments, got %q", ev.ContentID)
	}
	if ev.ContentID != "https:/foxford.ru/courses/100/lessons" {
		t.Errorf("Unexpected truncated id %q", ev.ContentID)
	}
}

func TestFoxFordCanonicalContentID(t *testing.T) {
	short := "a/b/c"
	if got := (FoxFord{}).CanonicalContentID(short); got != short {
		t.Errorf("Expected shallow id unchanged, got %q", got)
	}
}

func TestUchiNormalize(t *testing.T) {
	// statisticsTypeId, educational_course_id, created_at, externalUserId, profile_id
	fields := []string{"7", "c1", "2026-01-10T10:00:00", "ext", "p1"}
	ev, ok := Uchi{}.Normalize(fields)
	if !ok {
		t.Fatal("Expected record to normalize")
	}
	if ev.ProfileID != "p1" || ev.ContentID != "c1" {
		t.Errorf("Expected (p1, c1), got (%s, %s)", ev.ProfileID, ev.ContentID)
	}
}

func TestMEONormalize(t *testing.T) {
	// profile_id; educational_course_id; date; dt
	fields := []string{"p1", "c1", "10.01.2026", "1:30"}
	ev, ok := MEO{}.Normalize(fields)
	if !ok {
		t.Fatal("Expected record to normalize")
	}
	if ev.Duration != 90*60 {
		t.Errorf("Expected 1:30 to parse as %d seconds, got %d", 90*60, ev.Duration)
	}
	if ev.CreatedAt.Format("2006-01-02") != "2026-01-10" {
		t.Errorf("Expected day-first date to parse, got %v", ev.CreatedAt)
	}
	if !(MEO{}).Session().Presessionized {
		t.Error("Expected MEO dumps to be presessionized")
	}
}

func TestParseHoursMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0:10", 600, false},
		{"2:05", 7500, false},
		{"10", 0, true},
		{"a:b", 0, true},
	}
	for _, c := range cases {
		got, err := parseHoursMinutes(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Expected error for %q", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Expected no error for %q, got %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Expected %q -> %d, got %d", c.in, c.want, got)
		}
	}
}

func TestUnifiedParseHierarchyFiltersSystemCodes(t *testing.T) {
	csv := strings.Join([]string{
		"id,parent_id,course_type_id,course_name,system_code,deleted",
		"root,,1,Algebra,13788b9a-3426-45b2-9ba5-d8cec8c03c0c,f",
		"lesson,root,2,,13788b9a-3426-45b2-9ba5-d8cec8c03c0c,f",
		"other,,1,Else,00000000-0000-0000-0000-000000000000,f",
	}, "\n")
	nodes, err := Unified{}.ParseHierarchy(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes after system-code filter, got %d", len(nodes))
	}
	if nodes[0].ID != "root" || nodes[0].ParentID != "" {
		t.Errorf("Unexpected root node %+v", nodes[0])
	}
	if nodes[1].ParentID != "root" {
		t.Errorf("Expected lesson parent 'root', got %q", nodes[1].ParentID)
	}
}

func TestUchiParseHierarchyRemapsExternalIDs(t *testing.T) {
	csv := strings.Join([]string{
		"id,external_id,external_parent_id,courseTypeId,course_name,system_code,deleted",
		"10,ext-root,,1,Math,d2735d92-6ad6-49c4-9b36-c3b16cee695d,f",
		"11,ext-leaf,ext-root,2,,d2735d92-6ad6-49c4-9b36-c3b16cee695d,t",
		"12,foreign,,1,Else,13788b9a-3426-45b2-9ba5-d8cec8c03c0c,f",
	}, "\n")
	nodes, err := Uchi{}.ParseHierarchy(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].ID != "ext-root" {
		t.Errorf("Expected external id as node id, got %q", nodes[0].ID)
	}
	if !nodes[1].IsDeleted {
		t.Error("Expected 't' to mark the node deleted")
	}
}

func TestMEOParseHierarchyIsFlat(t *testing.T) {
	csv := strings.Join([]string{
		"material_id,course_name,deleted",
		"m1,Reading,f",
		"m2,Writing,f",
	}, "\n")
	nodes, err := MEO{}.ParseHierarchy(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	for _, node := range nodes {
		if node.ParentID != "" {
			t.Errorf("Expected flat catalog, node %q has parent %q", node.ID, node.ParentID)
		}
	}
}

func testRefData(t *testing.T) *refdata.RefData {
	t.Helper()
	dir := t.TempDir()
	systems := filepath.Join(dir, "systems.csv")
	if err := os.WriteFile(systems, []byte(
		"system_code,short_name\n"+foxfordSystemCode+",foxford\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	types := filepath.Join(dir, "types.csv")
	if err := os.WriteFile(types, []byte("id,type_name\n0,ЦОМ\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := refdata.Load(systems, types)
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestFoxFordFallbackChain(t *testing.T) {
	nodes := []domain.ContentNode{
		{ID: "foxford.ru/courses/100", CourseTypeID: "0", CourseName: "Algebra", SystemCode: foxfordSystemCode},
		{ID: "Lesson_42", ParentID: "foxford.ru/courses/100"},
	}
	opts := FoxFord{}.ResolverOptions(testRefData(t))
	r, err := hierarchy.NewResolver(nodes, opts)
	if err != nil {
		t.Fatal(err)
	}

	// A too-deep platform URL matches through the slash trim.
	id, ok := r.Match("foxford.ru/courses/100/lessons")
	if !ok || id != "foxford.ru/courses/100" {
		t.Errorf("Expected trim fallback to yield the course page, got %q (ok=%v)", id, ok)
	}

	// An untagged id still matches through the content-type tag retries.
	id, ok = r.Match("42")
	if !ok || id != "Lesson_42" {
		t.Errorf("Expected tag fallback to yield 'Lesson_42', got %q (ok=%v)", id, ok)
	}
}

func TestFoxFordTrimFallback(t *testing.T) {
	fb := foxfordTrimFallback()
	tree := map[string]bool{"foxford.ru/courses/100": true}
	exists := func(id string) bool { return tree[id] }

	candidate, ok := fb("foxford.ru/courses/100/lessons", exists)
	if !ok {
		t.Fatal("Expected trimmed candidate to match")
	}
	if candidate != "foxford.ru/courses/100" {
		t.Errorf("Expected one trailing segment removed, got %q", candidate)
	}

	// Ids outside the platform's URL space never match.
	if _, ok := fb("uchi.ru/courses/100/lessons", exists); ok {
		t.Error("Expected fallback to ignore non-platform ids")
	}
}
