// Package memory 提供进程内快照后端（默认，测试常用）。
package memory

import (
	"context"
	"sync"

	"exscan/pkg/contract"
)

// Backend: 进程内键值快照。
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New 创建空的内存后端。
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

func (b *Backend) Save(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.mu.Lock()
	b.data[key] = cp
	b.mu.Unlock()
	return nil
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	v, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return nil, contract.ErrSnapshotNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	return nil
}

var _ contract.SnapshotBackend = (*Backend)(nil)
