package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 默认输入为 STDIN（"-"），导出写到 ./out 目录；
// - 组件名采用仓库内置实现，选项给出全部键。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:          []string{"-"},
		Prompt:          "Ejercicios de comprensión lectora para segundo de primaria",
		BatchSize:       d.BatchSize,
		CooldownSeconds: d.CooldownSeconds,
		MaxTokens:       0,
		MaxRetries:      2,
		Logging:         Logging{Level: "info"},
		Components:      d.Components,
		Exports:         d.Exports,
		LLM:             "mock",
		Server:          d.Server,
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"","suitability":3}`),
				Limits:  Limits{RPM: 60, TPM: 0, MaxTokensPerReq: 0},
			},
			"anthropic": {
				Client: "anthropic",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "claude-sonnet-4-5",
  "api_key_env": "ANTHROPIC_API_KEY",
  "api_key": "",
  "max_tokens": 4096,
  "temperature": null,
  "timeout_seconds": 180,
  "endpoint_path": "",
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 50, TPM: 40000, MaxTokensPerReq: 0},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "",
  "api_key": "",
  "timeout_seconds": 120,
  "max_tokens": 0,
  "temperature": null,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "",
  "api_key": "",
  "endpoint_path": "",
  "timeout_seconds": 120,
  "max_output_tokens": 0,
  "api_key_in_query": true,
  "extra_headers": {},
  "extra_query": {}
}`),
			},
		},
	}
	cfg.Options.Loader = json.RawMessage(`{
  "text": {"buf_size": 65536, "max_bytes": 0},
  "pdf": {"max_bytes": 0, "plain_text": false}
}`)
	cfg.Options.Segmenter = json.RawMessage(`{
  "max_page_bytes": 0,
  "skip_normalize": false
}`)
	cfg.Options.Batcher = json.RawMessage(`{
  "max_batch_tokens": 0,
  "bytes_per_token": 4
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "min_suitability": 1,
  "max_suitability": 5
}`)
	cfg.Options.Extractor = json.RawMessage(`{"placeholder": "Sin descripción"}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0
}`)
	// memory 后端无配置项；切换 redis/sqlite/afs 时替换为对应键
	cfg.Options.Snapshot = json.RawMessage(`{}`)
	cfg.Options.Exporters = map[string]json.RawMessage{
		"csv":       json.RawMessage(`{"file_name": "analisis_ejercicios.csv", "delimiter": ",", "no_bom": false}`),
		"xlsx":      json.RawMessage(`{"file_name": "analisis_ejercicios.xlsx", "sheet_name": "Ejercicios"}`),
		"narrative": json.RawMessage(`{"file_name": "analisis_detallado.txt", "with_prompt": true}`),
	}
	return cfg
}
