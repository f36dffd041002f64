package afs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"exscan/pkg/contract"
)

// TestWriteLocal 本地目录作为 BaseURL
func TestWriteLocal(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{BaseURL: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "run/analisis_detallado.txt", strings.NewReader("narrativa")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "run", "analisis_detallado.txt"))
	if err != nil || string(b) != "narrativa" {
		t.Fatalf("unexpected %q %v", b, err)
	}
}

// TestCleanID 越界标识
func TestCleanID(t *testing.T) {
	for _, id := range []string{"/abs", "..", "../x", "a/../../x", "C:/x", "."} {
		if _, err := cleanID(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%s: expect ErrPathInvalid, got %v", id, err)
		}
	}
	if got, err := cleanID("a\\b.csv"); err != nil || got != "a/b.csv" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

// TestNewRequiresBaseURL 缺少 BaseURL
func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error")
	}
}
