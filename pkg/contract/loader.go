package contract

import (
	"context"
	"io"
)

// Loader: 文档来源抽象（文本/PDF 文件或 STDIN）。
// 约束：
// 1) 产出带 "[Página N]" 标记行的纯文本，供 Segmenter 解析；
// 2) DocID 稳定且去平台差异化；
// 3) 不做业务解析（分页语义仅由标记表达）；
// 4) 不在内部起并发。
type Loader interface {
	Load(ctx context.Context, docID DocID, r io.Reader) (string, error)
}
