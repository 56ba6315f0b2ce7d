package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func setupStateDir(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("ONTOGEN_STATE_DIR", tempDir)
	t.Setenv("ONTOGEN_STATE_FILE", filepath.Join(tempDir, "state.json"))
	t.Setenv("ONTOGEN_LOCK_FILE", filepath.Join(tempDir, "state.lock"))
	return tempDir
}

func TestInitStateCreatesAndRepairsFile(t *testing.T) {
	tempDir := setupStateDir(t)

	if err := InitState(); err != nil {
		t.Fatalf("init state: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, "state.json"))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if len(state.Records) != 0 {
		t.Fatalf("expected empty records, got %d", len(state.Records))
	}

	if err := os.WriteFile(filepath.Join(tempDir, "state.json"), []byte("{invalid"), 0o644); err != nil {
		t.Fatalf("write invalid state: %v", err)
	}

	if err := InitState(); err != nil {
		t.Fatalf("reinit state: %v", err)
	}

	records, err := ListRecords()
	if err != nil {
		t.Fatalf("list after repair: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty records after repair, got %d", len(records))
	}
}

func TestPutGetListRecords(t *testing.T) {
	setupStateDir(t)
	outputDir := t.TempDir()
	bio := filepath.Join(outputDir, "biology_ollama_ontology.ttl")
	chem := filepath.Join(outputDir, "chemistry_ollama_ontology.ttl")

	if err := PutRecord(Record{Field: "chemistry", Backend: "ollama", Status: "generation_failed", Path: chem, Error: "boom", RunID: "r1"}); err != nil {
		t.Fatalf("put chemistry: %v", err)
	}
	if err := PutRecord(Record{Field: "biology", Backend: "ollama", Status: "stored", Path: bio, RunID: "r1"}); err != nil {
		t.Fatalf("put biology: %v", err)
	}
	if err := PutRecord(Record{Field: "biology", Backend: "ollama", Status: "stored", Path: bio, RunID: "r2"}); err != nil {
		t.Fatalf("overwrite biology: %v", err)
	}

	record, found, err := GetRecord(bio)
	if err != nil || !found {
		t.Fatalf("get biology: found=%v err=%v", found, err)
	}
	if record.RunID != "r2" || record.UpdatedAt.IsZero() {
		t.Fatalf("expected latest record, got %+v", record)
	}

	records, err := ListRecords()
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Field != "biology" || records[1].Field != "chemistry" {
		t.Fatalf("expected records sorted by path, got %+v", records)
	}

	if err := PutRecord(Record{Field: "physics"}); err == nil {
		t.Fatalf("expected error for record without path")
	}
}

func TestPruneDropsMissingStoredArtifacts(t *testing.T) {
	setupStateDir(t)
	outputDir := t.TempDir()
	kept := filepath.Join(outputDir, "biology_ollama_ontology.ttl")
	gone := filepath.Join(outputDir, "physics_ollama_ontology.ttl")
	failed := filepath.Join(outputDir, "chemistry_ollama_ontology.ttl")

	if err := os.WriteFile(kept, []byte("@prefix bio: ..."), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	for _, record := range []Record{
		{Field: "biology", Status: "stored", Path: kept},
		{Field: "physics", Status: "stored", Path: gone},
		{Field: "chemistry", Status: "generation_failed", Path: failed},
	} {
		if err := PutRecord(record); err != nil {
			t.Fatalf("put %s: %v", record.Field, err)
		}
	}

	pruned, err := Prune()
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != gone {
		t.Fatalf("expected %s pruned, got %v", gone, pruned)
	}

	records, err := ListRecords()
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after prune, got %d", len(records))
	}
}
