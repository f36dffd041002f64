// Package afs 将恢复快照保存为 URL 下的 JSON 文件（本地路径、mem://、云存储）。
package afs

import (
	"bytes"
	"context"
	"errors"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"exscan/pkg/contract"
)

// Options: AFS 快照后端配置。
type Options struct {
	// BaseURL: 快照目录 URL，例如 "/var/lib/exscan" 或 "mem://localhost/exscan"。
	BaseURL string `json:"base_url"`
}

// Backend: 每个键对应 BaseURL 下的一个 <key>.json。
type Backend struct {
	fs      afs.Service
	baseURL string
}

// New 使用默认 AFS 服务创建后端。
func New(opts *Options) (*Backend, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, errors.New("afs snapshot: base_url required")
	}
	return &Backend{fs: afs.New(), baseURL: opts.BaseURL}, nil
}

func (b *Backend) objectURL(key string) string {
	return url.Join(b.baseURL, sanitize(key)+".json")
}

func (b *Backend) Save(ctx context.Context, key string, payload []byte) error {
	return b.fs.Upload(ctx, b.objectURL(key), file.DefaultFileOsMode, bytes.NewReader(payload))
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	u := b.objectURL(key)
	exists, err := b.fs.Exists(ctx, u)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, contract.ErrSnapshotNotFound
	}
	return b.fs.DownloadWithURL(ctx, u)
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	u := b.objectURL(key)
	exists, err := b.fs.Exists(ctx, u)
	if err != nil || !exists {
		return err
	}
	return b.fs.Delete(ctx, u)
}

// sanitize 将键中的分隔符替换为 '_'，避免写出 BaseURL 之外。
func sanitize(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch c {
		case '/', '\\', ':':
			out[i] = '_'
		}
	}
	return string(out)
}

var _ contract.SnapshotBackend = (*Backend)(nil)
