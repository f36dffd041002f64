// Package pdf 将 PDF 逐页抽取为带 "[Página N]" 标记的纯文本。
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"exscan/pkg/contract"
)

// Options 为 PDF Loader 的可选配置。
type Options struct {
	// MaxBytes: PDF 最大字节数；0 表示不限制。
	MaxBytes int64 `json:"max_bytes"`
	// PlainText: 直接使用 GetPlainText（默认按行抽取，失败时回退纯文本）。
	PlainText bool `json:"plain_text"`
}

// Loader 基于 ledongthuc/pdf 的页级文本抽取。
type Loader struct {
	maxBytes  int64
	plainText bool
}

// New 创建 PDF Loader。
func New(opts *Options) *Loader {
	l := &Loader{}
	if opts != nil {
		l.maxBytes = opts.MaxBytes
		l.plainText = opts.PlainText
	}
	return l
}

// Load 读取整份 PDF（库需要 io.ReaderAt），每页输出：
//
//	[Página N]
//	<页文本>
//
// 空页保留标记，页码与 PDF 物理页序一致（从 1 开始）。
func (l *Loader) Load(ctx context.Context, docID contract.DocID, r io.Reader) (string, error) {
	var src = r
	if l.maxBytes > 0 {
		src = io.LimitReader(r, l.maxBytes+1)
	}
	content, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", docID, err)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("load %s: empty PDF content: %w", docID, contract.ErrInvalidInput)
	}
	if l.maxBytes > 0 && int64(len(content)) > l.maxBytes {
		return "", fmt.Errorf("load %s: PDF exceeds %d bytes: %w", docID, l.maxBytes, contract.ErrInvalidInput)
	}
	rd, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("load %s: failed to parse PDF: %v: %w", docID, err, contract.ErrInvalidInput)
	}
	n := rd.NumPage()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		fmt.Fprintf(&sb, "[Página %d]\n", i)
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		sb.WriteString(l.pageText(page))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (l *Loader) pageText(page pdf.Page) string {
	if !l.plainText {
		if rows, err := page.GetTextByRow(); err == nil {
			var sb strings.Builder
			for _, row := range rows {
				var line strings.Builder
				for _, word := range row.Content {
					line.WriteString(word.S)
				}
				if s := strings.TrimSpace(line.String()); s != "" {
					sb.WriteString(s)
					sb.WriteString("\n")
				}
			}
			return sb.String()
		}
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

var _ contract.Loader = (*Loader)(nil)
