package contract

import "context"

// Batcher: 将文档页切分为若干 Batch。
// 约束：
//  1. 按页码升序排序后连续切片，每批至多 size 页（最后一批可更短）；
//  2. 不丢失、不重复：所有批次按序拼接等于排序后的全集；
//  3. 每个 Batch 设置 StartPage/EndPage 与单调递增的 BatchIndex；
//  4. size <= 0 返回 ErrInvalidConfig。
type Batcher interface {
	Make(ctx context.Context, pages []Page, size int) ([]Batch, error)
}
