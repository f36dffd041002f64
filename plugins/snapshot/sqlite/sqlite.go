// Package sqlite 以单表 SQLite 文件保存恢复快照（进程重启后仍可恢复）。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	"exscan/pkg/contract"
)

// Options: SQLite 快照后端配置。
type Options struct {
	// Path: 数据库文件路径。
	Path string `json:"path"`
}

// Backend: database/sql + modernc 驱动。
type Backend struct{ db *sql.DB }

// Open 打开/创建数据库并确保表结构存在。
func Open(ctx context.Context, opts *Options) (*Backend, error) {
	if opts == nil || opts.Path == "" {
		return nil, errors.New("sqlite snapshot: path required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// 单文件单写者
	db.SetMaxOpenConns(1)
	b := &Backend{db: db}
	if err := b.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS snapshots (
            key TEXT PRIMARY KEY,
            payload BLOB NOT NULL,
            updated_at DATETIME NOT NULL
        );`)
	return err
}

func (b *Backend) Save(ctx context.Context, key string, payload []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO snapshots(key, payload, updated_at) VALUES(?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		key, payload, time.Now().UTC())
	return err
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contract.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	return err
}

// Close 关闭数据库。
func (b *Backend) Close() error { return b.db.Close() }

var _ contract.SnapshotBackend = (*Backend)(nil)
