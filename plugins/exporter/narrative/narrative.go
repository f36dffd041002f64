package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"exscan/pkg/contract"
)

// DefaultName: 默认导出文件名。
const DefaultName = "analisis_detallado.txt"

// Options: 叙述文本导出选项。
type Options struct {
	FileName string `json:"file_name"`
	// WithPrompt: 在首行写出本次运行的标准描述。
	WithPrompt bool `json:"with_prompt"`
}

type exporter struct {
	name       string
	withPrompt bool
}

// New 从原样 JSON Options 创建叙述导出器。
func New(raw json.RawMessage) (contract.Exporter, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, err
		}
	}
	e := &exporter{name: DefaultName, withPrompt: opts.WithPrompt}
	if opts.FileName != "" {
		e.name = opts.FileName
	}
	return e, nil
}

func (e *exporter) Name() string        { return e.name }
func (e *exporter) ContentType() string { return "text/plain; charset=utf-8" }

// Export 原样输出 Narrative（去掉首部空行）。
func (e *exporter) Export(ctx context.Context, result contract.AnalysisResult) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := strings.TrimLeft(result.Narrative, "\n")
	if e.withPrompt && result.Prompt != "" {
		return io.MultiReader(strings.NewReader("Estándar: "+result.Prompt+"\n\n"), strings.NewReader(body)), nil
	}
	return strings.NewReader(body), nil
}

var _ contract.Exporter = (*exporter)(nil)
