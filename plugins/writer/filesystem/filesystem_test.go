package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"exscan/pkg/contract"
)

// TestWriteAtomic 原子写入并覆盖旧文件
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, v := range []string{"v1", "v2"} {
		if err := w.Write(context.Background(), "analisis_ejercicios.csv", bytes.NewBufferString(v)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "analisis_ejercicios.csv"))
	if err != nil || string(b) != "v2" {
		t.Fatalf("unexpected content %q %v", b, err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteNonAtomicSubdir 非原子写入并创建子目录
func TestWriteNonAtomicSubdir(t *testing.T) {
	dir := t.TempDir()
	a := false
	w, _ := New(&Options{OutputDir: dir, Atomic: &a})
	if err := w.Write(context.Background(), "run-1/analisis_detallado.txt", bytes.NewBufferString("n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1", "analisis_detallado.txt")); err != nil {
		t.Fatalf("file not created")
	}
}

// TestMapPathInvalid 越界路径
func TestMapPathInvalid(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	abs := "/abs"
	if runtime.GOOS == "windows" {
		abs = "C:\\abs"
	}
	for _, id := range []string{abs, "..", ".", "../bad", "a/../../bad"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %s expect invalid, got %v", id, err)
		}
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.txt", strings.NewReader("data")); err == nil {
		t.Fatalf("expect ctx error")
	}
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error for nil opts")
	}
	if _, err := New(&Options{}); err == nil {
		t.Fatalf("expect error for empty output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败，不留临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a.txt", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left %v", entries)
	}
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expect ctx error")
	}
}
