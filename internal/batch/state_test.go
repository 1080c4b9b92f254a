package batch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestState_SaveAndLoad(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")

	s, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState on missing file: %v", err)
	}
	s.MarkProcessed("a.json")
	s.MarkProcessed("b.json")
	s.MessagesScored = 40
	s.Kept = 12

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !loaded.IsProcessed("a.json") || !loaded.IsProcessed("b.json") {
		t.Errorf("processed files not restored: %v", loaded.FilesProcessed)
	}
	if loaded.MessagesScored != 40 || loaded.Kept != 12 {
		t.Errorf("counters not restored: %+v", loaded)
	}
	if loaded.LastProcessedAt.IsZero() {
		t.Error("expected last_processed_at to be set")
	}
}

func TestState_CorruptFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(statePath); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestState_IsProcessed(t *testing.T) {
	s := &State{}

	if s.IsProcessed("a.json") {
		t.Error("a.json should not be processed yet")
	}
	s.MarkProcessed("a.json")
	if !s.IsProcessed("a.json") {
		t.Error("a.json should be processed")
	}
	if s.IsProcessed("b.json") {
		t.Error("b.json should not be processed")
	}
}

func TestState_AddError(t *testing.T) {
	s := &State{}
	s.AddError("something went wrong")
	s.AddError("another error")

	if len(s.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(s.Errors))
	}
	if s.Errors[0] != "something went wrong" {
		t.Errorf("error[0] = %q", s.Errors[0])
	}
}

func TestState_SaveCreatesDirectories(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "nested", "dir", "state.json")

	s := &State{path: statePath}
	if err := s.Save(); err != nil {
		t.Fatalf("Save with nested dir failed: %v", err)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("state file not created in nested dir: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}

	got := expandHome("~/test/path")
	want := filepath.Join(home, "test/path")
	if got != want {
		t.Errorf("expandHome(~/test/path) = %q, want %q", got, want)
	}

	got = expandHome("/absolute/path")
	if got != "/absolute/path" {
		t.Errorf("expandHome(/absolute/path) = %q", got)
	}
}
