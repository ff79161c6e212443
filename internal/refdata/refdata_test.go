package refdata

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExternalSystems(t *testing.T) {
	path := writeCSV(t, "systems.csv",
		"system_code,short_name\n"+
			"13788b9a-3426-45b2-9ba5-d8cec8c03c0c,foxford\n"+
			"d2735d92-6ad6-49c4-9b36-c3b16cee695d,uchi\n")

	systems, err := LoadExternalSystems(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(systems) != 2 {
		t.Fatalf("Expected 2 systems, got %d", len(systems))
	}
	if systems["13788b9a-3426-45b2-9ba5-d8cec8c03c0c"] != "foxford" {
		t.Errorf("Unexpected short name %q", systems["13788b9a-3426-45b2-9ba5-d8cec8c03c0c"])
	}
}

func TestLoadExternalSystemsRejectsMalformedCode(t *testing.T) {
	path := writeCSV(t, "systems.csv",
		"system_code,short_name\nnot-a-uuid,foxford\n")
	if _, err := LoadExternalSystems(path); err == nil {
		t.Error("Expected an error for a malformed system code")
	}
}

func TestLoad(t *testing.T) {
	systems := writeCSV(t, "systems.csv",
		"system_code,short_name\n13788b9a-3426-45b2-9ba5-d8cec8c03c0c,foxford\n")
	types := writeCSV(t, "types.csv",
		"id,type_name\n1,ЦОМ\n2,Урок\n")

	ref, err := Load(systems, types)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	name, ok := ref.ProviderShortName("13788b9a-3426-45b2-9ba5-d8cec8c03c0c")
	if !ok || name != "foxford" {
		t.Errorf("Expected short name 'foxford', got %q (ok=%v)", name, ok)
	}
	if _, ok := ref.ProviderShortName("unknown"); ok {
		t.Error("Expected unknown system code to miss")
	}

	label, ok := ref.CourseTypeLabel("1")
	if !ok || label != CourseTypeDigital {
		t.Errorf("Expected label %q, got %q (ok=%v)", CourseTypeDigital, label, ok)
	}
	if _, ok := ref.CourseTypeLabel("9"); ok {
		t.Error("Expected unknown type code to miss")
	}
}
