package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"exscan/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown      Code = "unknown"
	CodeNetwork      Code = "network"
	CodeProtocol     Code = "protocol"
	CodeInvariant    Code = "invariant"
	CodeBudget       Code = "budget"
	CodeCancel       Code = "cancel"
	CodeIO           Code = "io"
	CodeSegmentation Code = "segmentation"
	CodeQuery        Code = "llm_query"
	CodeEmpty        Code = "empty"
	CodeConfig       Code = "config"
	CodeBusy         Code = "busy"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
// 顺序：取消 > 领域哨兵 > 传输哨兵 > I/O > 网络。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrSegmentation):
		return CodeSegmentation
	case errors.Is(err, contract.ErrEmptyResult), errors.Is(err, contract.ErrNoResult):
		return CodeEmpty
	case errors.Is(err, contract.ErrInvalidConfig):
		return CodeConfig
	case errors.Is(err, contract.ErrRunActive):
		return CodeBusy
	}
	// 预算/配额
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvalidInput) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	// 查询失败但无更细分类
	if errors.Is(err, contract.ErrLLMQuery) {
		return CodeQuery
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
