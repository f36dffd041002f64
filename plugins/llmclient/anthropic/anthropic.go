package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"exscan/pkg/contract"
)

// APIVersion 为 Messages API 版本头的默认值。
const APIVersion = "2023-06-01"

// Options: Anthropic Messages API 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`    // 默认 https://api.anthropic.com
	Model          string   `json:"model"`       // 默认 claude-sonnet-4-5
	APIKeyEnv      string   `json:"api_key_env"` // 默认 ANTHROPIC_API_KEY
	APIKey         string   `json:"api_key"`
	MaxTokens      int      `json:"max_tokens"` // Messages API 必填；默认 4096
	Temperature    *float64 `json:"temperature,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Version        string   `json:"anthropic_version,omitempty"`
	// EndpointPath 覆盖默认 /v1/messages；可为完整 URL
	EndpointPath string            `json:"endpoint_path"`
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.anthropic.com"
	}
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 180
	}
	if o.Version == "" {
		o.Version = APIVersion
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1/messages"
	}
}

type Client struct {
	url       string
	apiKey    string
	model     string
	maxTokens int
	temp      *float64
	version   string
	extraH    map[string]string
	do        func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("anthropic options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: %w: missing api key", contract.ErrInvalidInput)
	}
	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:       fullURL,
		apiKey:    key,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		temp:      opts.Temperature,
		version:   opts.Version,
		extraH:    opts.ExtraHeaders,
		do:        hc.Do,
	}, nil
}

type amMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type amReq struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []amMessage `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type amResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type amErr struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// upstreamError 实现 net.Error：5xx/408/529 视为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("anthropic upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return true }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodePrompt: system 角色合并为顶层 system 字段；相邻同角色消息合并（API 要求 user/assistant 交替）。
func (c *Client) encodePrompt(p contract.Prompt) ([]byte, error) {
	req := amReq{Model: c.model, MaxTokens: c.maxTokens, Temperature: c.temp}
	var sys []string
	add := func(role, content string) {
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content += "\n\n" + content
			return
		}
		req.Messages = append(req.Messages, amMessage{Role: role, Content: content})
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		add("user", string(v))
	case contract.ChatPrompt:
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				sys = append(sys, m.Content)
			case "assistant", "model":
				add("assistant", m.Content)
			default:
				add("user", m.Content)
			}
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	if len(req.Messages) == 0 || req.Messages[0].Role != "user" {
		return nil, fmt.Errorf("anthropic: %w: first message must be user", contract.ErrInvalidInput)
	}
	req.System = strings.Join(sys, "\n\n")
	return json.Marshal(&req)
}

// Query: 单次调用，返回所有 text 块的拼接。
func (c *Client) Query(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encodePrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if cerr := ctx.Err(); cerr != nil {
				return contract.Raw{}, cerr
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		var ae amErr
		if json.Unmarshal(slurp, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Type + ": " + ae.Error.Message
		}
		// 529 overloaded 与 5xx/408 同为可重试的上游错误
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("anthropic upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var ar amResp
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(ar.Content) == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	var sb strings.Builder
	for _, blk := range ar.Content {
		if blk.Type == "text" {
			sb.WriteString(blk.Text)
		}
	}
	return contract.Raw{Text: sb.String()}, nil
}

var _ contract.LLMClient = (*Client)(nil)
