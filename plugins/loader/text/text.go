package text

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"exscan/pkg/contract"
)

// Options 为文本 Loader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// MaxBytes: 文档最大字节数；0 表示不限制。
	MaxBytes int64 `json:"max_bytes"`
}

// Loader 读取已带 "[Página N]" 标记的纯文本文档。
type Loader struct {
	bufSize  int
	maxBytes int64
}

// New 创建文本 Loader。
func New(opts *Options) *Loader {
	const defaultBuf = 64 * 1024
	l := &Loader{bufSize: defaultBuf}
	if opts != nil {
		if opts.BufSize > 0 {
			l.bufSize = opts.BufSize
		}
		if opts.MaxBytes > 0 {
			l.maxBytes = opts.MaxBytes
		}
	}
	return l
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Load 读取全部文本并去掉 UTF-8 BOM；超出 MaxBytes 返回 ErrInvalidInput。
func (l *Loader) Load(ctx context.Context, docID contract.DocID, r io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	var src io.Reader = bufio.NewReaderSize(r, l.bufSize)
	if l.maxBytes > 0 {
		src = io.LimitReader(src, l.maxBytes+1)
	}
	data, err := io.ReadAll(readerWithCtx(ctx, src))
	if err != nil {
		return "", fmt.Errorf("load %s: %w", docID, err)
	}
	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return "", fmt.Errorf("load %s: document exceeds %d bytes: %w", docID, l.maxBytes, contract.ErrInvalidInput)
	}
	return string(bytes.TrimPrefix(data, bom)), nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}

var _ contract.Loader = (*Loader)(nil)
