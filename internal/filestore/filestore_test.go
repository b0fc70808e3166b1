package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRemove_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "realm.db")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should no longer exist after Remove")
	}
}

func TestRemove_MissingFileIsSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.db")

	if err := Remove(path); err != nil {
		t.Errorf("Remove of a missing file should succeed idempotently, got: %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "realm.db")

	ok, err := Exists(path)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Exists should report false for a missing file")
	}

	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	ok, err = Exists(path)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Exists should report true once the file is created")
	}
}
