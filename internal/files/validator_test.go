package files

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/utils"
)

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.json")
	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if file.Name != "notes.json" || string(file.Data) != `{"a":1}` {
		t.Errorf("Unexpected file %+v", file)
	}
	if file.Type != "application/json" {
		t.Errorf("Expected application/json, got %q", file.Type)
	}
}

func TestLoadAllowsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(file.Data) != 0 {
		t.Errorf("Expected empty data, got %d bytes", len(file.Data))
	}
	if file.Type != "application/octet-stream" {
		t.Errorf("Expected default MIME type, got %q", file.Type)
	}
}

func TestValidateRejects(t *testing.T) {
	dir := t.TempDir()

	if _, err := Validate(filepath.Join(dir, "missing.txt")); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected missing file error, got %v", err)
	}
	if _, err := Validate(dir); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Errorf("Expected directory error, got %v", err)
	}
}

func TestSaveUsesUniqueSafeName(t *testing.T) {
	dir := t.TempDir()
	file := filetransfer.File{Name: "../../escape.txt", Data: []byte("one")}

	first, err := Save(dir, file, utils.UniquePath)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first != filepath.Join(dir, "escape.txt") {
		t.Errorf("Expected file inside dir, got %q", first)
	}

	file.Data = []byte("two")
	second, err := Save(dir, file, utils.UniquePath)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if second == first {
		t.Fatal("Expected a distinct path for the second save")
	}

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, []byte("two")) {
		t.Errorf("Unexpected contents %q", data)
	}
}
