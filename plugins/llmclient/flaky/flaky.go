package flaky

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"exscan/pkg/contract"
	"exscan/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现：
// 第一次 Query 返回 ErrRateLimited；
// 第二次返回不含任何标题的文本（抽取为空）；
// 之后委托 mock 的按页回报。
type Client struct {
	logPath string
	count   atomic.Int32
	ok      contract.LLMClient
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	inner, err := mock.New(json.RawMessage(`{"prefix":` + quote(o.Prefix) + `}`))
	if err != nil {
		return nil, err
	}
	return &Client{logPath: o.LogPath, ok: inner}, nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Query 实现 contract.LLMClient。
func (c *Client) Query(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log("no_headers")
		return contract.Raw{Text: "Lo siento, no puedo ayudar con eso."}, nil
	default:
		c.log("ok")
		return c.ok.Query(ctx, b, p)
	}
}

var _ contract.LLMClient = (*Client)(nil)
