// Package auto 按内容魔数在 PDF 与纯文本 Loader 之间分派。
package auto

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"exscan/pkg/contract"
	"exscan/plugins/loader/pdf"
	"exscan/plugins/loader/text"
)

// Options 组合两个子 Loader 的选项。
type Options struct {
	Text text.Options `json:"text"`
	PDF  pdf.Options  `json:"pdf"`
}

// Loader: "%PDF-" 开头走 PDF，否则按文本处理。
type Loader struct {
	text contract.Loader
	pdf  contract.Loader
}

// New 创建自动分派 Loader。
func New(opts *Options) *Loader {
	if opts == nil {
		opts = &Options{}
	}
	return &Loader{text: text.New(&opts.Text), pdf: pdf.New(&opts.PDF)}
}

var pdfMagic = []byte("%PDF-")

func (l *Loader) Load(ctx context.Context, docID contract.DocID, r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(pdfMagic))
	if bytes.Equal(head, pdfMagic) {
		return l.pdf.Load(ctx, docID, br)
	}
	return l.text.Load(ctx, docID, br)
}

var _ contract.Loader = (*Loader)(nil)
