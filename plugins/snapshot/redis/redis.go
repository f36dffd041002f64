// Package redis 以 Redis 键保存恢复快照，多实例部署时共享最近一次结果。
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"exscan/pkg/contract"
)

// Options: Redis 快照后端配置。
type Options struct {
	// URL: redis://[:password@]host:port/db
	URL string `json:"url"`
	// TTLSeconds: 快照过期时间；0 表示不过期。
	TTLSeconds int `json:"ttl_seconds"`
	// Prefix: 键前缀，默认 "exscan:"。
	Prefix string `json:"prefix"`
}

// Backend: go-redis 客户端封装。
type Backend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New 解析 URL 并在 5s 内完成连通性探测。
func New(opts *Options) (*Backend, error) {
	if opts == nil || opts.URL == "" {
		return nil, errors.New("redis snapshot: url required")
	}
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient 复用已有客户端（不做探测）。
func NewWithClient(client *redis.Client, opts *Options) *Backend {
	b := &Backend{client: client, prefix: "exscan:"}
	if opts != nil {
		if opts.TTLSeconds > 0 {
			b.ttl = time.Duration(opts.TTLSeconds) * time.Second
		}
		if opts.Prefix != "" {
			b.prefix = opts.Prefix
		}
	}
	return b
}

func (b *Backend) Save(ctx context.Context, key string, payload []byte) error {
	return b.client.Set(ctx, b.prefix+key, payload, b.ttl).Err()
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, contract.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}

// Close 释放底层连接池。
func (b *Backend) Close() error { return b.client.Close() }

var _ contract.SnapshotBackend = (*Backend)(nil)
