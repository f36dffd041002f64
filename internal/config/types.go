package config

import (
	"encoding/json"
	"time"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Inputs: 待分析文档路径；"-" 表示 STDIN（不可与其他路径混用）。
	Inputs []string `json:"inputs" validate:"dive,required"`
	// Output: 导出工件在 Writer 根下的子路径前缀；空表示直接写到根。
	Output string `json:"output"`
	// Prompt: 目标教学标准描述（用户输入）。
	Prompt string `json:"prompt"`
	// BatchSize: 每批页数。
	BatchSize int `json:"batch_size" validate:"gte=1"`
	// CooldownSeconds: 批间固定等待；显式 0 关闭，缺省取默认值。
	CooldownSeconds *float64 `json:"cooldown_seconds,omitempty" validate:"omitempty,gte=0"`
	// MaxTokens: 单请求估算上限；0 关闭预算检查。
	MaxTokens int `json:"max_tokens" validate:"gte=0"`
	// MaxRetries: LLM 阶段最大重试次数（>=0）。0 表示不重试。
	MaxRetries int     `json:"max_retries" validate:"gte=0"`
	Logging    Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// Exports: 需要生成的导出格式（注册表中的 exporter 名）。
	Exports []string `json:"exports" validate:"dive,required"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm" validate:"required"`
	Provider map[string]Provider `json:"provider" validate:"dive"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Server  Server  `json:"server"`
	Metrics Metrics `json:"metrics"`
}

// Logging: 日志等级与控制台可读格式；输出路径与轮转策略为固定默认。
type Logging struct {
	Level  string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Pretty bool   `json:"pretty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Loader        string `json:"loader"`
	Segmenter     string `json:"segmenter"`
	Batcher       string `json:"batcher"`
	PromptBuilder string `json:"prompt_builder"`
	Extractor     string `json:"extractor"`
	Writer        string `json:"writer"`
	Snapshot      string `json:"snapshot"`
}

// Options: 各组件的原样 JSON Options。
// Exporters 以导出格式名为键。
type Options struct {
	Loader        json.RawMessage            `json:"loader"`
	Segmenter     json.RawMessage            `json:"segmenter"`
	Batcher       json.RawMessage            `json:"batcher"`
	PromptBuilder json.RawMessage            `json:"prompt_builder"`
	Extractor     json.RawMessage            `json:"extractor"`
	Writer        json.RawMessage            `json:"writer"`
	Snapshot      json.RawMessage            `json:"snapshot"`
	Exporters     map[string]json.RawMessage `json:"exporters"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client" validate:"required"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Scheduler）。
type Limits struct {
	RPM             int `json:"rpm" validate:"gte=0"`
	TPM             int `json:"tpm" validate:"gte=0"`
	MaxTokensPerReq int `json:"max_tokens_per_req" validate:"gte=0"`
}

// Server: HTTP 展示/下载界面。
type Server struct {
	Addr string `json:"addr" validate:"omitempty,hostname_port"`
	// MaxUploadMB: 上传文档大小上限。
	MaxUploadMB int `json:"max_upload_mb" validate:"gte=0"`
}

// Metrics: Prometheus 抓取端点；空地址表示不单独监听。
type Metrics struct {
	Addr string `json:"addr" validate:"omitempty,hostname_port"`
}

// Cooldown 返回批间等待时长；未设置时为 0。
func (c Config) Cooldown() time.Duration {
	if c.CooldownSeconds == nil || *c.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(*c.CooldownSeconds * float64(time.Second))
}
