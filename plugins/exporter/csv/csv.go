package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"unicode/utf8"

	"exscan/pkg/contract"
)

// DefaultName: 默认导出文件名。
const DefaultName = "analisis_ejercicios.csv"

// Options: CSV 导出选项。
type Options struct {
	// FileName: 工件名；空串采用 DefaultName。
	FileName string `json:"file_name"`
	// Delimiter: 单字符分隔符；空串为 ","。
	Delimiter string `json:"delimiter"`
	// NoBOM: 关闭 UTF-8 BOM（默认带 BOM，Excel 才能正确识别重音字符）。
	NoBOM bool `json:"no_bom"`
}

type exporter struct {
	name  string
	comma rune
	bom   bool
}

// New 从原样 JSON Options 创建 CSV 导出器。
func New(raw json.RawMessage) (contract.Exporter, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, err
		}
	}
	e := &exporter{name: DefaultName, comma: ',', bom: !opts.NoBOM}
	if opts.FileName != "" {
		e.name = opts.FileName
	}
	if opts.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) || r == '"' || r == '\n' || r == '\r' {
			return nil, errors.New("csv: delimiter must be a single rune")
		}
		e.comma = r
	}
	return e, nil
}

func (e *exporter) Name() string        { return e.name }
func (e *exporter) ContentType() string { return "text/csv; charset=utf-8" }

// Export 输出表头 + 每条记录一行，列顺序固定。
func (e *exporter) Export(ctx context.Context, result contract.AnalysisResult) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if e.bom {
		buf.WriteString("\ufeff")
	}
	w := csv.NewWriter(&buf)
	w.Comma = e.comma
	if err := w.Write(contract.ExportColumns); err != nil {
		return nil, err
	}
	for _, r := range result.Records {
		row := []string{strconv.Itoa(r.Page), r.RawNumber, strconv.Itoa(r.Suitability), r.Description}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &buf, nil
}

var _ contract.Exporter = (*exporter)(nil)
