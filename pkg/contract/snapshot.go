package contract

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound: 键下不存在快照。
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotBackend: 恢复快照的键值存储（内存/Redis/SQLite/AFS）。
// 约束：
//  1. Save 整体覆盖同键旧值；
//  2. Load 在键不存在时返回 ErrSnapshotNotFound；
//  3. Delete 对不存在的键幂等；
//  4. 载荷为不透明字节（JSON 编码由 ResultStore 负责）。
type SnapshotBackend interface {
	Save(ctx context.Context, key string, payload []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
