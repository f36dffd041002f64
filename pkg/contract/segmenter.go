package contract

import "context"

// Segmenter: 将原始文档文本拆分为按页码升序的 []Page。
// 约束：
// 1) 页边界为独占一行的 "[Página N]" 标记；
// 2) 首个标记之前的文本丢弃；
// 3) 失败时返回包装 ErrSegmentation 的错误，且不返回部分结果；
// 4) 无内部并发、幂等。
type Segmenter interface {
	Segment(ctx context.Context, text string) ([]Page, error)
}
