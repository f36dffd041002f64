package fixed

import (
	"context"
	"fmt"
	"sort"

	"exscan/pkg/contract"
)

// Options 为定长 Batcher 的可选配置（最小必要）。
type Options struct {
	// MaxBatchTokens: 单批估算 token 上限。0 表示只按页数切分。
	// 超出时提前收批，单页即超出时仍独立成批（交由客户端/上游裁决）。
	MaxBatchTokens int `json:"max_batch_tokens"`
	// BytesPerToken: 估算系数，tokens ≈ ceil(utf8_bytes / BytesPerToken)。<=0 时采用默认 4。
	BytesPerToken int `json:"bytes_per_token"`
}

// Batcher 实现按页数定长切分。
type Batcher struct {
	maxTokens     int
	bytesPerToken int
}

// New 创建定长 Batcher。
func New(opts *Options) *Batcher {
	b := &Batcher{bytesPerToken: 4}
	if opts != nil {
		if opts.MaxBatchTokens > 0 {
			b.maxTokens = opts.MaxBatchTokens
		}
		if opts.BytesPerToken > 0 {
			b.bytesPerToken = opts.BytesPerToken
		}
	}
	return b
}

// Make 将页按页码升序排序后连续切片，每批至多 size 页：
// - 最后一批可更短；
// - 批次顺序拼接等于排序后的全集；
// - 输入切片不被修改。
func (b *Batcher) Make(ctx context.Context, pages []contract.Page, size int) ([]contract.Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batcher: batch size must be > 0, got %d: %w", size, contract.ErrInvalidConfig)
	}
	n := len(pages)
	if n == 0 {
		return nil, nil
	}
	sorted := make([]contract.Page, n)
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var batches []contract.Batch
	var batchIdx int64
	l := 0
	for l < n {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		r := l + size
		if r > n {
			r = n
		}
		if b.maxTokens > 0 {
			r = b.fitTokens(sorted, l, r)
		}
		batches = append(batches, contract.Batch{
			BatchIndex: batchIdx,
			Pages:      sorted[l:r],
			StartPage:  sorted[l].Number,
			EndPage:    sorted[r-1].Number,
		})
		batchIdx++
		l = r
	}
	return batches, nil
}

// fitTokens 在 [l,r) 内收缩右端，至少保留一页。
func (b *Batcher) fitTokens(pages []contract.Page, l, r int) int {
	used := 0
	for i := l; i < r; i++ {
		used += b.estimateTokens(pages[i].Text)
		if used > b.maxTokens && i > l {
			return i
		}
	}
	return r
}

func (b *Batcher) estimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + b.bytesPerToken - 1) / b.bytesPerToken
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Batcher = (*Batcher)(nil)
