package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"exscan/pkg/contract"
)

// Options: Google Generative Language API (Gemini) 最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // https://generativelanguage.googleapis.com
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 120 秒。
	TimeoutSeconds  int `json:"timeout_seconds,omitempty"`
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
	// 第三方兼容（最小）
	EndpointPath  string            `json:"endpoint_path"`    // 可覆盖默认 /v1beta/models/{model}:generateContent；支持 {model} 占位
	APIKeyInQuery *bool             `json:"api_key_in_query"` // 默认 true；为 false 时使用 x-goog-api-key 头
	ExtraHeaders  map[string]string `json:"extra_headers"`
	ExtraQuery    map[string]string `json:"extra_query"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1beta/models/{model}:generateContent"
	}
	// 默认把 key 放在 query（与官方 API 对齐）
	if o.APIKeyInQuery == nil {
		t := true
		o.APIKeyInQuery = &t
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
}

type Client struct {
	url       string // 完整路径（模型占位已展开）
	apiKey    string
	inQuery   bool
	maxTokens int
	extraH    map[string]string
	extraQ    map[string]string
	do        func(*http.Request) (*http.Response, error)
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	path := strings.ReplaceAll(opts.EndpointPath, "{model}", url.PathEscape(opts.Model))
	if !(strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")) {
		base := strings.TrimRight(opts.BaseURL, "/")
		p := strings.TrimLeft(path, "/")
		path = base + "/" + p
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:       path,
		apiKey:    key,
		inQuery:   *opts.APIKeyInQuery,
		maxTokens: opts.MaxOutputTokens,
		extraH:    opts.ExtraHeaders,
		extraQ:    opts.ExtraQuery,
		do:        hc.Do,
	}, nil
}

// 请求/响应（最小字段）。
type gmPart struct {
	Text string `json:"text"`
}
type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}
type gmGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}
type gmReq struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}
type gmResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodePrompt: system 消息合并进 systemInstruction，其余按角色映射进 contents。
func (c *Client) encodePrompt(p contract.Prompt) ([]byte, error) {
	var req gmReq
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Contents = []gmContent{{Role: "user", Parts: []gmPart{{Text: string(v)}}}}
	case contract.ChatPrompt:
		req.Contents = make([]gmContent, 0, len(v))
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), "system") {
				if req.SystemInstruction == nil {
					req.SystemInstruction = &gmContent{}
				}
				req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, gmPart{Text: m.Content})
				continue
			}
			req.Contents = append(req.Contents, gmContent{Role: normalizeGeminiRole(m.Role), Parts: []gmPart{{Text: m.Content}}})
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("gemini: %w: no user content", contract.ErrInvalidInput)
	}
	if c.maxTokens > 0 {
		req.GenerationConfig = &gmGenerationConfig{MaxOutputTokens: c.maxTokens}
	}
	return json.Marshal(&req)
}

// normalizeGeminiRole 将通用 Chat 角色映射为 Gemini 支持的集合：user|model。
// assistant→model，其余→user；大小写不敏感。
func normalizeGeminiRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}

// Query: 单次调用，同步返回模型自由文本（多个 part 直接拼接）。
func (c *Client) Query(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encodePrompt(p)
	if err != nil {
		if errors.Is(err, contract.ErrInvalidInput) {
			return contract.Raw{}, err
		}
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return contract.Raw{}, fmt.Errorf("invalid url: %v: %w", err, contract.ErrInvalidInput)
	}
	q := u.Query()
	if c.inQuery {
		q.Set("key", c.apiKey)
	}
	for k, v := range c.extraQ {
		if k != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !c.inQuery {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
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
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("gemini upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var gr gmResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(gr.Candidates) == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return contract.Raw{Text: sb.String()}, nil
}

var _ contract.LLMClient = (*Client)(nil)
