package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"exscan/internal/pipeline"
	"exscan/internal/rate"
	"exscan/pkg/contract"
	"exscan/pkg/registry"
)

// Validate 对最小必要边界做静态校验：struct tag + 注册表存在性。
// inputs/prompt 是否必需取决于运行模式（CLI 批处理或 HTTP），由调用方检查。
func Validate(cfg Config) error {
	if err := ValidateStruct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// "-" 不能与其他路径混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other inputs")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered (have %v)", prov.Client, registry.Names(registry.LLMClient))
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Loader, d.Loader); registry.Loader[name] == nil {
		return fmt.Errorf("config: loader %q not registered", name)
	}
	if name := effName(cfg.Components.Segmenter, d.Segmenter); registry.Segmenter[name] == nil {
		return fmt.Errorf("config: segmenter %q not registered", name)
	}
	if name := effName(cfg.Components.Batcher, d.Batcher); registry.Batcher[name] == nil {
		return fmt.Errorf("config: batcher %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Extractor, d.Extractor); registry.Extractor[name] == nil {
		return fmt.Errorf("config: extractor %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Snapshot, d.Snapshot); registry.Snapshot[name] == nil {
		return fmt.Errorf("config: snapshot %q not registered", name)
	}
	seen := map[string]bool{}
	for _, e := range cfg.Exports {
		if registry.Exporter[e] == nil {
			return fmt.Errorf("config: exporter %q not registered (have %v)", e, registry.Names(registry.Exporter))
		}
		if seen[e] {
			return fmt.Errorf("config: exporter %q listed twice", e)
		}
		seen[e] = true
	}
	return nil
}

// Assembly: 由配置装配出的全部运行期组件。
type Assembly struct {
	Components pipeline.Components
	Settings   pipeline.Settings
	Gate       rate.Gate
	GateKey    rate.LimitKey
	// Exporters 按配置顺序排列。
	Exporters []contract.Exporter
	Writer    contract.Writer
	Snapshot  contract.SnapshotBackend
	// Prefix: 导出工件前缀（cfg.Output）。
	Prefix string
}

// Close 释放需要关闭的后端（Redis 连接、SQLite 句柄）。
func (a *Assembly) Close() error {
	if a == nil || a.Snapshot == nil {
		return nil
	}
	if c, ok := a.Snapshot.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Assemble 构造 Components、Settings、限流 Gate+Key、导出器、Writer 与快照后端。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(ctx context.Context, cfg Config) (*Assembly, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	// 有效名称
	d := Defaults().Components
	ln := effName(cfg.Components.Loader, d.Loader)
	sn := effName(cfg.Components.Segmenter, d.Segmenter)
	bn := effName(cfg.Components.Batcher, d.Batcher)
	pn := effName(cfg.Components.PromptBuilder, d.PromptBuilder)
	xn := effName(cfg.Components.Extractor, d.Extractor)
	wn := effName(cfg.Components.Writer, d.Writer)
	kn := effName(cfg.Components.Snapshot, d.Snapshot)

	// 构造实例
	l, err := registry.Loader[ln](cfg.Options.Loader)
	if err != nil {
		return nil, fmt.Errorf("loader %s: %w", ln, err)
	}
	s, err := registry.Segmenter[sn](cfg.Options.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("segmenter %s: %w", sn, err)
	}
	b, err := registry.Batcher[bn](cfg.Options.Batcher)
	if err != nil {
		return nil, fmt.Errorf("batcher %s: %w", bn, err)
	}
	pb, err := registry.PromptBuilder[pn](cfg.Options.PromptBuilder)
	if err != nil {
		return nil, fmt.Errorf("prompt_builder %s: %w", pn, err)
	}
	x, err := registry.Extractor[xn](cfg.Options.Extractor)
	if err != nil {
		return nil, fmt.Errorf("extractor %s: %w", xn, err)
	}
	wopts := cfg.Options.Writer
	if len(wopts) == 0 && wn == "fs" {
		wopts = json.RawMessage(`{"output_dir":"out"}`)
	}
	w, err := registry.Writer[wn](wopts)
	if err != nil {
		return nil, fmt.Errorf("writer %s: %w", wn, err)
	}
	exps := make([]contract.Exporter, 0, len(cfg.Exports))
	for _, name := range cfg.Exports {
		e, err := registry.Exporter[name](cfg.Options.Exporters[name])
		if err != nil {
			return nil, fmt.Errorf("exporter %s: %w", name, err)
		}
		exps = append(exps, e)
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", cfg.LLM, err)
	}

	// 快照后端最后构造：之前任何失败都不会留下未关闭的连接
	snap, err := registry.Snapshot[kn](ctx, cfg.Options.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", kn, err)
	}

	// 调度：批间冷却与 provider 限额归入同一分组策略；分组键由 API Key 派生
	key := rate.KeyFor(cfg.LLM, prov.Client, prov.Options)
	gate := rate.NewScheduler(map[rate.LimitKey]rate.Policy{
		key: {
			Cooldown:        cfg.Cooldown(),
			RPM:             prov.Limits.RPM,
			TPM:             prov.Limits.TPM,
			MaxTokensPerReq: prov.Limits.MaxTokensPerReq,
		},
	}, nil)

	set := pipeline.Settings{
		Standard:   cfg.Prompt,
		BatchSize:  cfg.BatchSize,
		Gate:       gate,
		GateKey:    key,
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.MaxTokens,
		// BytesPerToken: 由 Prompt 估算器默认 4；此处保持 0 使用默认。
		BytesPerToken: 0,
		LLMName:       cfg.LLM,
	}

	return &Assembly{
		Components: pipeline.Components{
			Loader:        l,
			Segmenter:     s,
			Batcher:       b,
			PromptBuilder: pb,
			LLM:           llm,
			Extractor:     x,
		},
		Settings:  set,
		Gate:      gate,
		GateKey:   key,
		Exporters: exps,
		Writer:    w,
		Snapshot:  snap,
		Prefix:    strings.Trim(strings.ReplaceAll(cfg.Output, "\\", "/"), "/"),
	}, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
