package xlsx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/xuri/excelize/v2"

	"exscan/pkg/contract"
)

// DefaultName: 默认导出文件名。
const DefaultName = "analisis_ejercicios.xlsx"

// Options: XLSX 导出选项。
type Options struct {
	FileName string `json:"file_name"`
	// SheetName: 工作表名；空串沿用 excelize 默认 "Sheet1"。
	SheetName string `json:"sheet_name"`
}

type exporter struct {
	name  string
	sheet string
}

// New 从原样 JSON Options 创建 XLSX 导出器。
func New(raw json.RawMessage) (contract.Exporter, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, err
		}
	}
	e := &exporter{name: DefaultName, sheet: opts.SheetName}
	if opts.FileName != "" {
		e.name = opts.FileName
	}
	return e, nil
}

func (e *exporter) Name() string { return e.name }
func (e *exporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Export 写单工作表：首行表头，之后每条记录一行；页码/分值为数值单元格。
func (e *exporter) Export(ctx context.Context, result contract.AnalysisResult) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if e.sheet != "" && e.sheet != sheet {
		if err := f.SetSheetName(sheet, e.sheet); err != nil {
			return nil, err
		}
		sheet = e.sheet
	}
	header := make([]interface{}, len(contract.ExportColumns))
	for i, c := range contract.ExportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, r := range result.Records {
		if i%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{r.Page, r.RawNumber, r.Suitability, r.Description}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

var _ contract.Exporter = (*exporter)(nil)
