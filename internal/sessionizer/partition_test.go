package sessionizer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"activity-sync/internal/domain"
)

// fakeSource is a minimal adapter over a three-column comma CSV:
// profile, content, created_at.
type fakeSource struct{}

func (fakeSource) Name() string { return "fake" }

func (fakeSource) Dump() DumpFormat {
	return DumpFormat{Delim: ',', HasHeader: true}
}

func (fakeSource) Normalize(fields []string) (domain.RawEvent, bool) {
	if len(fields) < 3 {
		return domain.RawEvent{}, false
	}
	created, err := time.Parse(timeLayout, fields[2])
	if err != nil {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{ProfileID: fields[0], ContentID: fields[1], CreatedAt: created}, true
}

func (fakeSource) Session() Options { return Options{} }

func TestProcessPartition(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "part-0000.csv")
	dump := "profile_id,educational_course_id,created_at\n" +
		"p1,c1,2026-01-10 10:00:00\n" +
		"p1,c1,2026-01-10 10:05:00\n" +
		"p1,c1,2026-01-10 10:20:00\n" +
		"bad-row\n"
	if err := os.WriteFile(dumpPath, []byte(dump), 0o644); err != nil {
		t.Fatal(err)
	}

	outPath, skipped, dropped, err := ProcessPartition(fakeSource{}, dumpPath)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if skipped {
		t.Error("Expected first run not to be skipped")
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped record, got %d", dropped)
	}
	if outPath != dumpPath+PartitionSuffix {
		t.Errorf("Expected output %q, got %q", dumpPath+PartitionSuffix, outPath)
	}

	rows, err := ReadPartition(outPath)
	if err != nil {
		t.Fatalf("Expected readable output, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 session row, got %d", len(rows))
	}
	if rows[0].DT != 20*60 {
		t.Errorf("Expected dt %d, got %d", 20*60, rows[0].DT)
	}
	if rows[0].Date != "2026-01-10" {
		t.Errorf("Expected date 2026-01-10, got %q", rows[0].Date)
	}
}

func TestProcessPartitionSkipsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "part-0000.csv")
	dump := "profile_id,educational_course_id,created_at\np1,c1,2026-01-10 10:00:00\n"
	if err := os.WriteFile(dumpPath, []byte(dump), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, _, err := ProcessPartition(fakeSource{}, dumpPath); err != nil {
		t.Fatalf("first run: %v", err)
	}
	outPath := OutputPath(dumpPath)
	before, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}

	// Second run must not touch the existing output.
	_, skipped, _, err := ProcessPartition(fakeSource{}, dumpPath)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !skipped {
		t.Error("Expected second run to be skipped")
	}
	after, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("Expected output to be byte-identical after a rerun")
	}
}
