package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHash(t *testing.T) {
	h, err := HashFile("./hash.go")
	if err != nil {
		t.Fatalf("failed to hash file: %v", err)
	}
	if len(h) == 0 {
		t.Fatal("hash should not be empty")
	}
}

func TestHashMissingFile(t *testing.T) {
	h, err := HashFile(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if h != "" {
		t.Errorf("expected empty hash, got %s", h)
	}
}

func TestHashFileMatchesBytes(t *testing.T) {
	content := []byte("version: 2\nmodels: []\n")
	path := filepath.Join(t.TempDir(), "schema.yml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h != HashBytes(content) {
		t.Errorf("HashFile() = %s, HashBytes() = %s", h, HashBytes(content))
	}
}
