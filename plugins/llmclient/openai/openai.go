package openai

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

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒）
	MaxTokens      int      `json:"max_tokens"`      // 输出上限；0 表示交由服务端默认
	Temperature    *float64 `json:"temperature,omitempty"`
	// 第三方兼容（最小）：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL（以 http 开头）
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头（Azure/OpenRouter 等兼容服务）
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
}

type Client struct {
	url         string
	apiKey      string
	temp        *float64
	model       string
	maxTokens   int
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	// endpoint_path 可为完整 URL
	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		base := strings.TrimRight(opts.BaseURL, "/")
		path := strings.TrimLeft(opts.EndpointPath, "/")
		fullURL = base + "/" + path
	}
	return &Client{
		url:         fullURL,
		apiKey:      key,
		temp:        opts.Temperature,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaReq struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func (c *Client) encodePrompt(p contract.Prompt) ([]byte, error) {
	req := oaReq{Model: c.model, Temperature: c.temp, MaxTokens: c.maxTokens}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []oaMessage{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		req.Messages = make([]oaMessage, 0, len(v))
		for _, m := range v {
			req.Messages = append(req.Messages, oaMessage{Role: m.Role, Content: m.Content})
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	return json.Marshal(&req)
}

// Query: 单次调用，同步返回模型自由文本。
func (c *Client) Query(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encodePrompt(p)
	if err != nil {
		if errors.Is(err, contract.ErrInvalidInput) {
			return contract.Raw{}, err
		}
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
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
		// 4xx 视为输入/配置无效；5xx 与 408 视为网络/上游问题
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(or.Choices) == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	// 空文本原样返回，由编排层按“无记录”处理
	return contract.Raw{Text: or.Choices[0].Message.Content}, nil
}

var _ contract.LLMClient = (*Client)(nil)
