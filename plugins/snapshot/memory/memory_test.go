package memory

import (
	"context"
	"errors"
	"testing"

	"exscan/pkg/contract"
)

// TestBackendRoundTrip 覆盖写、读、删与幂等删除
func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()
	if _, err := b.Load(ctx, "k"); !errors.Is(err, contract.ErrSnapshotNotFound) {
		t.Fatalf("expect not found, got %v", err)
	}
	payload := []byte(`{"a":1}`)
	if err := b.Save(ctx, "k", payload); err != nil {
		t.Fatalf("save: %v", err)
	}
	payload[0] = 'x'
	got, err := b.Load(ctx, "k")
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("重复删除应幂等: %v", err)
	}
	if _, err := b.Load(ctx, "k"); !errors.Is(err, contract.ErrSnapshotNotFound) {
		t.Fatalf("expect not found after delete, got %v", err)
	}
}
