// Package afs 将导出工件上传到任意 AFS URL（本地目录、mem://、s3:// 等已注册的存储）。
package afs

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"exscan/pkg/contract"
)

// Options: AFS Writer 配置。
type Options struct {
	// BaseURL: 目标目录 URL（必需）。
	BaseURL string `json:"base_url"`
}

// Writer: 以 Upload 整体写入，每个 ArtifactID 一个对象。
type Writer struct {
	fs      afs.Service
	baseURL string
}

// New 使用默认 AFS 服务创建 Writer。
func New(opts *Options) (*Writer, error) {
	if opts == nil || strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("afs writer: base_url required")
	}
	return &Writer{fs: afs.New(), baseURL: opts.BaseURL}, nil
}

func (w *Writer) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	rel, err := cleanID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.fs.Upload(ctx, url.Join(w.baseURL, rel), file.DefaultFileOsMode, r)
}

// cleanID 仅接受不逃逸 BaseURL 的相对 slash 路径。
func cleanID(id contract.ArtifactID) (string, error) {
	s := strings.ReplaceAll(string(id), "\\", "/")
	if strings.HasPrefix(s, "/") {
		return "", contract.ErrPathInvalid
	}
	rel := path.Clean(s)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.Contains(rel, ":") {
		return "", contract.ErrPathInvalid
	}
	return rel, nil
}

var _ contract.Writer = (*Writer)(nil)
