package contract

import (
	"context"
	"errors"
)

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 以 Batch+Prompt 为单位与大模型交互，返回原始文本 Raw。
// 单次调用、同步返回；超时/重试/鉴权由实现自行负责，编排层视其为黑盒。
type LLMClient interface {
	Query(ctx context.Context, b Batch, p Prompt) (Raw, error)
}

// 传输层最小错误分类（用于日志/指标分类）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
