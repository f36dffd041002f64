package contract

import "context"

// Extractor: 将单个批次的 LLM 自由文本响应解析为零或多条 ExerciseRecord。
// 约束：
//  1. 无匹配不是错误：返回空切片；
//  2. 头部存在但字段无法解析的片段静默丢弃；
//  3. 描述缺失时使用占位值而非失败；
//  4. 结果按响应内出现顺序返回。
type Extractor interface {
	Extract(ctx context.Context, raw Raw) ([]ExerciseRecord, error)
}
