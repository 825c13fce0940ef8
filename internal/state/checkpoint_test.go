package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileCheckpoint_MissingFileIsZero(t *testing.T) {
	cp := NewFileCheckpoint(filepath.Join(t.TempDir(), "state", "last-message-id.txt"))
	id, err := cp.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0, got %d", id)
	}
}

func TestFileCheckpoint_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "last-message-id.txt")
	cp := NewFileCheckpoint(path)
	if _, err := cp.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cp.Save(42); err != nil {
		t.Fatalf("save: %v", err)
	}

	id, err := NewFileCheckpoint(path).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
}

func TestFileCheckpoint_NeverDecreases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")
	cp := NewFileCheckpoint(path)
	cp.Load()

	if err := cp.Save(100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cp.Save(50); err != nil {
		t.Fatalf("save lower: %v", err)
	}

	id, _ := NewFileCheckpoint(path).Load()
	if id != 100 {
		t.Fatalf("expected 100 after lower save, got %d", id)
	}
}

func TestFileCheckpoint_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")
	os.WriteFile(path, []byte("not-a-number"), 0o644)
	if _, err := NewFileCheckpoint(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileCheckpoint_TrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")
	os.WriteFile(path, []byte("  7\n"), 0o644)
	id, err := NewFileCheckpoint(path).Load()
	if err != nil || id != 7 {
		t.Fatalf("expected 7, got %d (%v)", id, err)
	}
}
