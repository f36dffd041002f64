package contract

import "errors"

// 领域错误分类（上层据此决定中止/提示策略）。
var (
	// ErrSegmentation: 页标记解析失败；当前文档加载作废，不提供任何页。
	ErrSegmentation = errors.New("segmentation failed")
	// ErrLLMQuery: 外部模型查询失败（传输/鉴权/模型侧）；当前运行中止且不落盘。
	ErrLLMQuery = errors.New("llm query failed")
	// ErrEmptyResult: 运行完成但未抽取到任何记录；信息性结果，不是错误。
	ErrEmptyResult = errors.New("no exercises found")
	// ErrNoResult: 聚合时没有记录（"no result to save"）。
	ErrNoResult = errors.New("no result to save")
	// ErrInvalidConfig: 配置前置条件违例（如批大小 <= 0）。
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRunActive: 已有运行在进行中（单写者）。
	ErrRunActive = errors.New("analysis already running")
)

// Writer/路径相关最小错误分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
)
