package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"exscan/pkg/contract"
)

// TestNewRequiresURL 缺少 URL 直接报错
func TestNewRequiresURL(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error without url")
	}
	if _, err := New(&Options{URL: "://bad"}); err == nil {
		t.Fatalf("expect parse error")
	}
}

// TestBackendRoundTrip 需要真实 Redis（EXSCAN_TEST_REDIS_URL）
func TestBackendRoundTrip(t *testing.T) {
	url := os.Getenv("EXSCAN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EXSCAN_TEST_REDIS_URL not set")
	}
	b, err := New(&Options{URL: url, Prefix: "exscan-test:", TTLSeconds: 60})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	ctx := context.Background()
	_ = b.Delete(ctx, "k")
	if _, err := b.Load(ctx, "k"); !errors.Is(err, contract.ErrSnapshotNotFound) {
		t.Fatalf("expect not found, got %v", err)
	}
	if err := b.Save(ctx, "k", []byte(`{"records":[]}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := b.Load(ctx, "k")
	if err != nil || string(got) != `{"records":[]}` {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
