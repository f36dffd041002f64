package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "EXSCAN_"

// DefaultCooldownSeconds: 批间默认等待（秒）。
const DefaultCooldownSeconds = 65.0

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	cd := DefaultCooldownSeconds
	return Config{
		BatchSize:       25,
		CooldownSeconds: &cd,
		MaxRetries:      0,
		Logging:         Logging{Level: "info"},
		Components: Components{
			Loader:        "auto",
			Segmenter:     "marker",
			Batcher:       "fixed",
			PromptBuilder: "standard",
			Extractor:     "ejercicio",
			Writer:        "fs",
			Snapshot:      "memory",
		},
		Exports: []string{"csv", "xlsx", "narrative"},
		Server:  Server{Addr: ":8080", MaxUploadMB: 50},
	}
}

// LoadDotEnv 读取 .env 文件到进程环境；已存在的环境变量不被覆盖。
// 文件不存在时静默跳过。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var found []string
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if err := godotenv.Load(found...); err != nil {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// 顶层
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if strings.TrimSpace(over.Output) != "" {
		out.Output = strings.TrimSpace(over.Output)
	}
	if strings.TrimSpace(over.Prompt) != "" {
		out.Prompt = over.Prompt
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	// 0 表示关闭等待，因此用指针区分“未设置”
	if over.CooldownSeconds != nil {
		v := *over.CooldownSeconds
		out.CooldownSeconds = &v
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	// MaxRetries 的 0 具有语义（禁用重试）；over.MaxRetries < 0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if over.Logging.Pretty {
		out.Logging.Pretty = true
	}

	// 组件名（空不覆盖）
	if over.Components.Loader != "" {
		out.Components.Loader = over.Components.Loader
	}
	if over.Components.Segmenter != "" {
		out.Components.Segmenter = over.Components.Segmenter
	}
	if over.Components.Batcher != "" {
		out.Components.Batcher = over.Components.Batcher
	}
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}
	if over.Components.Extractor != "" {
		out.Components.Extractor = over.Components.Extractor
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Snapshot != "" {
		out.Components.Snapshot = over.Components.Snapshot
	}
	if len(over.Exports) > 0 {
		out.Exports = cloneStrings(over.Exports)
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if len(over.Options.Loader) > 0 {
		out.Options.Loader = cloneRaw(over.Options.Loader)
	}
	if len(over.Options.Segmenter) > 0 {
		out.Options.Segmenter = cloneRaw(over.Options.Segmenter)
	}
	if len(over.Options.Batcher) > 0 {
		out.Options.Batcher = cloneRaw(over.Options.Batcher)
	}
	if len(over.Options.PromptBuilder) > 0 {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}
	if len(over.Options.Extractor) > 0 {
		out.Options.Extractor = cloneRaw(over.Options.Extractor)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Snapshot) > 0 {
		out.Options.Snapshot = cloneRaw(over.Options.Snapshot)
	}
	if len(over.Options.Exporters) > 0 {
		merged := make(map[string]json.RawMessage, len(out.Options.Exporters)+len(over.Options.Exporters))
		for k, v := range out.Options.Exporters {
			merged[k] = v
		}
		for k, v := range over.Options.Exporters {
			merged[k] = cloneRaw(v)
		}
		out.Options.Exporters = merged
	}

	if strings.TrimSpace(over.LLM) != "" {
		out.LLM = strings.TrimSpace(over.LLM)
	}
	if over.Server.Addr != "" {
		out.Server.Addr = over.Server.Addr
	}
	if over.Server.MaxUploadMB != 0 {
		out.Server.MaxUploadMB = over.Server.MaxUploadMB
	}
	if over.Metrics.Addr != "" {
		out.Metrics.Addr = over.Metrics.Addr
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 EXSCAN_；集合之外的键忽略。
// 支持：INPUTS, OUTPUT, PROMPT, BATCH_SIZE, COOLDOWN_SECONDS, MAX_TOKENS, MAX_RETRIES,
// LLM, EXPORTS, LOG_LEVEL, LOG_PRETTY, SERVER_ADDR, METRICS_ADDR, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "OUTPUT":
			over.Output = strings.TrimSpace(val)
		case "PROMPT":
			over.Prompt = val
		case "BATCH_SIZE":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("config: %sBATCH_SIZE: %w", EnvPrefix, err)
			}
			over.BatchSize = v
		case "COOLDOWN_SECONDS":
			v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return over, fmt.Errorf("config: %sCOOLDOWN_SECONDS: %w", EnvPrefix, err)
			}
			over.CooldownSeconds = &v
		case "MAX_TOKENS":
			if v, err := atoi(val); err == nil {
				over.MaxTokens = v
			}
		case "MAX_RETRIES":
			if v, err := atoi(val); err == nil {
				over.MaxRetries = v
			}
		case "LLM":
			over.LLM = strings.TrimSpace(val)
		case "EXPORTS":
			over.Exports = splitComma(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.ToLower(strings.TrimSpace(val))
		case "LOG_PRETTY":
			if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				over.Logging.Pretty = b
			}
		case "SERVER_ADDR":
			over.Server.Addr = strings.TrimSpace(val)
		case "METRICS_ADDR":
			over.Metrics.Addr = strings.TrimSpace(val)
		case "COMPONENTS_LOADER":
			over.Components.Loader = strings.TrimSpace(val)
		case "COMPONENTS_SEGMENTER":
			over.Components.Segmenter = strings.TrimSpace(val)
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = strings.TrimSpace(val)
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = strings.TrimSpace(val)
		case "COMPONENTS_EXTRACTOR":
			over.Components.Extractor = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "COMPONENTS_SNAPSHOT":
			over.Components.Snapshot = strings.TrimSpace(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(parts[1]))
			field := strings.Join(parts[2:], "__")
			p := prov[name]
			changed := false
			switch field {
			case "CLIENT":
				if tv := strings.TrimSpace(val); tv != "" {
					p.Client = tv
					changed = true
				}
			case "LIMITS_RPM":
				if v, err := atoi(val); err == nil {
					p.Limits.RPM = v
					changed = true
				}
			case "LIMITS_TPM":
				if v, err := atoi(val); err == nil {
					p.Limits.TPM = v
					changed = true
				}
			case "LIMITS_MAX_TOKENS_PER_REQ":
				if v, err := atoi(val); err == nil {
					p.Limits.MaxTokensPerReq = v
					changed = true
				}
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if strings.TrimSpace(val) != "" {
					if !json.Valid([]byte(val)) {
						return over, fmt.Errorf("config: provider %q options_json is not valid JSON", name)
					}
					p.Options = json.RawMessage(val)
					changed = true
				}
			}
			// 仅在发生有效变更时记录该 provider；避免空值覆盖 config.json
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
