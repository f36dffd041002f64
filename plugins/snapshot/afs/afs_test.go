package afs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"exscan/pkg/contract"
)

// TestBackendRoundTrip 本地目录作为 BaseURL
func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := New(&Options{BaseURL: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := b.Load(ctx, "exscan:last_result"); !errors.Is(err, contract.ErrSnapshotNotFound) {
		t.Fatalf("expect not found, got %v", err)
	}
	if err := b.Save(ctx, "exscan:last_result", []byte(`{"narrative":"x"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "exscan_last_result.json")); err != nil {
		t.Fatalf("快照文件未写出: %v", err)
	}
	got, err := b.Load(ctx, "exscan:last_result")
	if err != nil || string(got) != `{"narrative":"x"}` {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := b.Delete(ctx, "exscan:last_result"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, "exscan:last_result"); err != nil {
		t.Fatalf("重复删除应幂等: %v", err)
	}
}

// TestSanitize 键中的分隔符不逃逸目录
func TestSanitize(t *testing.T) {
	if got := sanitize("../a/b:c"); got != ".._a_b_c" {
		t.Fatalf("unexpected %q", got)
	}
}

// TestNewRequiresBaseURL 缺少 BaseURL 报错
func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(&Options{}); err == nil {
		t.Fatalf("expect error")
	}
}
