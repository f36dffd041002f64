package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"exscan/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 描述前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: 可选的响应模式（用于集成测试与无网络联调）。
	//  - "": 留空或未知值时，默认使用 "ejercicio_per_page"。
	//  - "ejercicio_per_page": 扫描每页中以 "Ejercicio <N>" 开头的行，按标准格式逐条回报，
	//    分值取 Suitability（默认 3）。没有命中时返回一句不含标题的说明。
	//  - "fixed": 原样返回 Text。
	//  - "echo": 回显 Prompt 的最后一条消息。
	ResponseMode string `json:"response_mode,omitempty"`
	Suitability  int    `json:"suitability,omitempty"`
	Text         string `json:"text,omitempty"`
}

type Client struct {
	prefix string
	mode   string
	suit   int
	text   string
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.Suitability == 0 {
		o.Suitability = 3
	}
	mode := o.ResponseMode
	if strings.TrimSpace(mode) == "" {
		mode = "ejercicio_per_page"
	}
	return &Client{prefix: o.Prefix, mode: mode, suit: o.Suitability, text: o.Text}, nil
}

// NoneFound: 没有命中时的回复（不含任何标题，抽取结果为空）。
const NoneFound = "No encontré ejercicios que cumplan el estándar en estas páginas."

var exerciseLine = regexp.MustCompile(`(?i)^\s*ejercicio\s+(\d+[a-z]?)[.:)]?\s*(.*)$`)

func (c *Client) Query(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	switch c.mode {
	case "ejercicio_per_page":
		return contract.Raw{Text: c.perPage(b)}, nil
	case "fixed":
		return contract.Raw{Text: c.text}, nil
	}

	// 兜底：回显 Prompt（echo 或未知模式）
	switch v := p.(type) {
	case contract.TextPrompt:
		return contract.Raw{Text: string(v)}, nil
	case contract.ChatPrompt:
		if len(v) == 0 {
			return contract.Raw{Text: fmt.Sprintf("%s(chat): <empty>", c.prefix)}, nil
		}
		return contract.Raw{Text: v[len(v)-1].Content}, nil
	default:
		return contract.Raw{Text: fmt.Sprintf("%s(unknown prompt type)", c.prefix)}, nil
	}
}

func (c *Client) perPage(b contract.Batch) string {
	var sb strings.Builder
	for _, pg := range b.Pages {
		for _, line := range strings.Split(pg.Text, "\n") {
			m := exerciseLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			desc := strings.TrimSpace(m[2])
			if desc == "" {
				desc = "-"
			}
			fmt.Fprintf(&sb, "Ejercicio %s (Página %d) [Idoneidad: %d]: %s: %s\n", m[1], pg.Number, c.suit, c.prefix, desc)
		}
	}
	if sb.Len() == 0 {
		return NoneFound
	}
	return sb.String()
}

var _ contract.LLMClient = (*Client)(nil)
